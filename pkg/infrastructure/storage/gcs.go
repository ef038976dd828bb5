package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/apperrors"
)

// StorageAdapter provides blob storage operations using Google Cloud Storage
type StorageAdapter struct {
	Client *storage.Client
}

func (a *StorageAdapter) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	wc := a.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

func (a *StorageAdapter) Read(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	data, _, err := a.ReadVersioned(ctx, bucketName, objectName)
	return data, err
}

// ReadVersioned returns the object and its generation.
func (a *StorageAdapter) ReadVersioned(ctx context.Context, bucketName, objectName string) ([]byte, int64, error) {
	rc, err := a.Client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, shared.ErrObjectNotFound
		}
		return nil, 0, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, fmt.Errorf("read gs://%s/%s: %w", bucketName, objectName, err)
	}
	return data, rc.Attrs.Generation, nil
}

// WriteIfGeneration replaces the object only if its generation still matches.
// Generation 0 requires the object to be absent.
func (a *StorageAdapter) WriteIfGeneration(ctx context.Context, bucketName, objectName string, data []byte, generation int64) (int64, error) {
	obj := a.Client.Bucket(bucketName).Object(objectName)
	if generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	wc := obj.NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return 0, mapPrecondition(err)
	}
	if err := wc.Close(); err != nil {
		return 0, mapPrecondition(err)
	}
	return wc.Attrs().Generation, nil
}

func mapPrecondition(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	}
	if status.Code(err) == codes.FailedPrecondition {
		return fmt.Errorf("%w: %v", apperrors.ErrConflict, err)
	}
	return err
}
