package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/desirelines/pipeline/pkg/execution"
	storage "github.com/desirelines/pipeline/pkg/storage/firestore"
)

// FirestoreAdapter implements execution.Store on Firestore.
type FirestoreAdapter struct {
	storage *storage.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{storage: storage.NewClient(client)}
}

func (a *FirestoreAdapter) SetExecution(ctx context.Context, record *execution.Record) error {
	return a.storage.Executions().Doc(record.ExecutionID).Set(ctx, record)
}

func (a *FirestoreAdapter) UpdateExecution(ctx context.Context, id string, data map[string]interface{}) error {
	return a.storage.Executions().Doc(id).Update(ctx, data)
}

func (a *FirestoreAdapter) GetExecution(ctx context.Context, id string) (*execution.Record, error) {
	rec, err := a.storage.Executions().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", execution.ErrNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}

func (a *FirestoreAdapter) Close() error {
	return a.storage.Close()
}
