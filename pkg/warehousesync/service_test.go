package warehousesync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/infrastructure/warehouse/sqlite"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/testing/mocks"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func record(id int64, typ activity.Type) *activity.Record {
	return &activity.Record{
		ID:             id,
		Name:           "Morning Ride",
		Type:           typ,
		SportType:      string(typ),
		StartDate:      time.Date(2023, 1, 1, 13, 0, 0, 0, time.UTC),
		StartDateLocal: time.Date(2023, 1, 1, 8, 0, 0, 0, time.UTC),
		Distance:       16093.4,
	}
}

func event(aspect webhook.AspectType, id int64) *webhook.Event {
	return &webhook.Event{AspectType: aspect, ObjectID: id, ObjectType: "activity", EventTime: 1672531200}
}

func TestHandle_CreateThenDelete_SQLite(t *testing.T) {
	ctx := context.Background()
	wh, err := sqlite.New(":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })

	source := &mocks.MockActivitySource{
		GetActivityRecordFunc: func(ctx context.Context, id int64) (*activity.Record, error) {
			return record(id, activity.TypeRun), nil
		},
	}
	svc := NewService(source, wh)

	res, err := svc.Handle(ctx, event(webhook.AspectCreate, 7), "corr-1", logger)
	require.NoError(t, err)
	assert.Equal(t, outcome.StatusProcessed, res.Status)
	assert.Equal(t, outcome.ActionCreated, res.Action)

	hit, err := wh.LookupMetadata(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, warehouse.SourcePrimary, hit.Source)
	assert.Equal(t, activity.TypeRun, hit.Activity.Type, "warehouse keeps every activity type")

	res, err = svc.Handle(ctx, event(webhook.AspectDelete, 7), "corr-2", logger)
	require.NoError(t, err)
	assert.Equal(t, outcome.ActionDeleted, res.Action)

	hit, err = wh.LookupMetadata(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, warehouse.SourceArchive, hit.Source)

	res, err = svc.Handle(ctx, event(webhook.AspectDelete, 7), "corr-3", logger)
	require.NoError(t, err)
	assert.Equal(t, outcome.StatusSkipped, res.Status)
	assert.Equal(t, outcome.ReasonActivityNotFound, res.Reason)
}

func TestHandle_CreateActivityGone(t *testing.T) {
	wh := &mocks.MockWarehouse{
		WriteFunc: func(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
			t.Fatal("nothing to write for a missing activity")
			return warehouse.Stats{}, nil
		},
	}
	source := &mocks.MockActivitySource{
		GetActivityRecordFunc: func(ctx context.Context, id int64) (*activity.Record, error) {
			return nil, &apperrors.ActivityNotFoundError{ActivityID: id, Reason: apperrors.ReasonGone}
		},
	}

	res, err := NewService(source, wh).Handle(context.Background(), event(webhook.AspectCreate, 7), "c", logger)
	require.NoError(t, err)
	assert.Equal(t, outcome.ReasonActivityNotFound, res.Reason)
}

func TestHandle_Errors(t *testing.T) {
	warehouseErr := &apperrors.WarehouseError{Op: "merge", Err: errors.New("deadline exceeded")}
	credentialErr := &apperrors.CredentialError{Operation: "refresh_token", StatusCode: 401}

	tests := []struct {
		name      string
		aspect    webhook.AspectType
		source    *mocks.MockActivitySource
		wh        *mocks.MockWarehouse
		want      error
		permanent bool
	}{
		{
			name:   "warehouse write failure is transient",
			aspect: webhook.AspectCreate,
			source: &mocks.MockActivitySource{},
			wh: &mocks.MockWarehouse{WriteFunc: func(ctx context.Context, rec *activity.Record) (warehouse.Stats, error) {
				return warehouse.Stats{}, warehouseErr
			}},
			want: warehouseErr,
		},
		{
			name:   "credential failure is permanent",
			aspect: webhook.AspectCreate,
			source: &mocks.MockActivitySource{GetActivityRecordFunc: func(ctx context.Context, id int64) (*activity.Record, error) {
				return nil, credentialErr
			}},
			wh:        &mocks.MockWarehouse{},
			want:      credentialErr,
			permanent: true,
		},
		{
			name:   "archive failure is transient",
			aspect: webhook.AspectDelete,
			source: &mocks.MockActivitySource{},
			wh: &mocks.MockWarehouse{ArchiveAndRemoveFunc: func(ctx context.Context, d warehouse.Deletion) (warehouse.Outcome, error) {
				return warehouse.Skipped, warehouseErr
			}},
			want: warehouseErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.source, tt.wh).Handle(context.Background(), event(tt.aspect, 1), "c", logger)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.permanent, apperrors.IsPermanent(err))
		})
	}
}

func TestHandle_DeletePassesMetadata(t *testing.T) {
	var got warehouse.Deletion
	wh := &mocks.MockWarehouse{ArchiveAndRemoveFunc: func(ctx context.Context, d warehouse.Deletion) (warehouse.Outcome, error) {
		got = d
		return warehouse.Processed, nil
	}}

	_, err := NewService(&mocks.MockActivitySource{}, wh).Handle(context.Background(), event(webhook.AspectDelete, 9), "corr-9", logger)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ActivityID)
	assert.Equal(t, "corr-9", got.CorrelationID)
	assert.Equal(t, time.Unix(1672531200, 0).UTC(), got.EventTime)
}

func TestHandle_UpdateIsSkipped(t *testing.T) {
	res, err := NewService(&mocks.MockActivitySource{}, &mocks.MockWarehouse{}).Handle(context.Background(), event(webhook.AspectUpdate, 1), "c", logger)
	require.NoError(t, err)
	assert.Equal(t, outcome.ReasonNonCreateEvent, res.Reason)
}
