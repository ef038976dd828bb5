// Package warehousesync mirrors activity webhooks into the warehouse.
package warehousesync

import (
	"context"
	"log/slog"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/infrastructure/metrics"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// RecordSource reads the detailed profile of one activity.
type RecordSource interface {
	GetActivityRecord(ctx context.Context, activityID int64) (*activity.Record, error)
}

type Service struct {
	activities RecordSource
	warehouse  warehouse.Warehouse
}

func NewService(activities RecordSource, wh warehouse.Warehouse) *Service {
	return &Service{activities: activities, warehouse: wh}
}

// Handle routes one webhook event. Every activity type is stored; the
// warehouse is the complete record.
func (s *Service) Handle(ctx context.Context, evt *webhook.Event, correlationID string, logger *slog.Logger) (*outcome.Result, error) {
	switch evt.AspectType {
	case webhook.AspectCreate:
		return s.handleCreate(ctx, evt, logger)
	case webhook.AspectDelete:
		return s.handleDelete(ctx, evt, correlationID, logger)
	default:
		logger.Info("Ignoring non-create event")
		return outcome.Skipped(outcome.ReasonNonCreateEvent, evt.ActivityID()), nil
	}
}

func (s *Service) handleCreate(ctx context.Context, evt *webhook.Event, logger *slog.Logger) (*outcome.Result, error) {
	id := evt.ActivityID()

	rec, err := s.activities.GetActivityRecord(ctx, id)
	if nf, ok := apperrors.AsNotFound(err); ok {
		logger.Info("Activity no longer exists upstream", "reason", nf.Reason.String())
		return outcome.Skipped(outcome.ReasonActivityNotFound, id), nil
	}
	if err != nil {
		return nil, err
	}

	stats, err := s.warehouse.Write(ctx, rec)
	if err != nil {
		return nil, err
	}
	metrics.RecordWarehouseRows("merge", stats.RowsAffected)

	logger.Info("Activity upserted",
		"operation", "upsert",
		"staged_rows", stats.StagedRows,
		"rows_affected", stats.RowsAffected,
		"execution_time_ms", stats.ExecutionTime.Milliseconds(),
	)
	return outcome.Processed(outcome.ActionCreated, id).
		With("rows_affected", stats.RowsAffected).
		With("execution_time_ms", stats.ExecutionTime.Milliseconds()), nil
}

func (s *Service) handleDelete(ctx context.Context, evt *webhook.Event, correlationID string, logger *slog.Logger) (*outcome.Result, error) {
	id := evt.ActivityID()

	res, err := s.warehouse.ArchiveAndRemove(ctx, warehouse.Deletion{
		ActivityID:    id,
		EventTime:     evt.Time(),
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	if res == warehouse.Skipped {
		logger.Warn("Activity not found for deletion, may have been deleted already")
		return outcome.Skipped(outcome.ReasonActivityNotFound, id), nil
	}
	metrics.RecordWarehouseRows("archive", 1)

	logger.Info("Archived deleted activity", "event_time", evt.Time())
	return outcome.Processed(outcome.ActionDeleted, id), nil
}
