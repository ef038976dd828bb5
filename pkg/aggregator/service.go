// Package aggregator keeps the per-year summary document and its derived
// timeseries in step with activity webhooks.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/domain/pacing"
	"github.com/desirelines/pipeline/pkg/domain/summary"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/infrastructure/metrics"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/summarystore"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// ActivitySource reads the minimal profile of one activity.
type ActivitySource interface {
	GetActivitySummary(ctx context.Context, activityID int64) (activity.Summary, error)
}

// MetadataLookup resolves a deleted activity from the warehouse.
type MetadataLookup interface {
	LookupMetadata(ctx context.Context, activityID int64) (warehouse.LookupResult, error)
}

type Options struct {
	// SummaryWriteAttempts bounds the read-merge-replace cycle on conflict.
	SummaryWriteAttempts int
	// SyncGracePeriod is how long after event_time a delete for an unknown
	// activity is still redelivered in case its create is in flight.
	SyncGracePeriod time.Duration
}

type Service struct {
	activities ActivitySource
	lookup     MetadataLookup
	store      *summarystore.Store
	engine     *summary.Engine
	pacing     *pacing.Calculator
	opts       Options
	now        func() time.Time
}

func NewService(activities ActivitySource, lookup MetadataLookup, store *summarystore.Store, engine *summary.Engine, calc *pacing.Calculator, opts Options) *Service {
	if opts.SummaryWriteAttempts < 1 {
		opts.SummaryWriteAttempts = 1
	}
	return &Service{
		activities: activities,
		lookup:     lookup,
		store:      store,
		engine:     engine,
		pacing:     calc,
		opts:       opts,
		now:        time.Now,
	}
}

// Handle routes one webhook event. Errors are returned only when the
// delivery should be retried or is permanently broken.
func (s *Service) Handle(ctx context.Context, evt *webhook.Event, logger *slog.Logger) (*outcome.Result, error) {
	switch evt.AspectType {
	case webhook.AspectCreate:
		return s.handleCreate(ctx, evt, logger)
	case webhook.AspectDelete:
		return s.handleDelete(ctx, evt, logger)
	default:
		logger.Info("Ignoring non-create event")
		return outcome.Skipped(outcome.ReasonNonCreateEvent, evt.ActivityID()), nil
	}
}

func (s *Service) handleCreate(ctx context.Context, evt *webhook.Event, logger *slog.Logger) (*outcome.Result, error) {
	id := evt.ActivityID()

	act, err := s.activities.GetActivitySummary(ctx, id)
	if nf, ok := apperrors.AsNotFound(err); ok {
		logger.Info("Activity no longer exists upstream", "reason", nf.Reason.String())
		return outcome.Skipped(outcome.ReasonActivityNotFound, id), nil
	}
	if err != nil {
		return nil, err
	}
	if !s.engine.Allows(act) {
		logger.Info("Skipping unsupported activity type", "activity_type", act.Type)
		return outcome.Skipped(outcome.ReasonUnsupportedType, id).With("activity_type", string(act.Type)), nil
	}

	var result summary.MergeResult
	attempts, err := s.apply(ctx, act.Year(), logger, func(doc *summary.YearSummary) (*summary.YearSummary, bool, error) {
		next, res := s.engine.MergeCreate(doc, act)
		result = res
		return next, res.Changed(), nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Activity aggregated", "date", act.DateStr(), "distance_miles", act.DistanceMiles(), "merge", result.String())
	res := outcome.Processed(outcome.ActionCreated, id).
		With("date", act.DateStr()).
		With("distance_miles", act.DistanceMiles()).
		With("attempts", attempts)
	if result == summary.Duplicate {
		res.With("unchanged", true)
	}
	return res, nil
}

func (s *Service) handleDelete(ctx context.Context, evt *webhook.Event, logger *slog.Logger) (*outcome.Result, error) {
	id := evt.ActivityID()

	hit, err := s.lookup.LookupMetadata(ctx, id)
	if nf, ok := apperrors.AsNotFound(err); ok {
		return s.notFoundOnDelete(evt, nf, logger)
	}
	if err != nil {
		return nil, err
	}

	act := hit.Activity
	if !s.engine.Allows(act) {
		logger.Info("Skipping unsupported activity type", "activity_type", act.Type)
		return outcome.Skipped(outcome.ReasonUnsupportedType, id).With("activity_type", string(act.Type)), nil
	}

	attempts, err := s.apply(ctx, act.Year(), logger, func(doc *summary.YearSummary) (*summary.YearSummary, bool, error) {
		next, err := s.engine.RemoveDelete(doc, act)
		return next, err == nil, err
	})
	var notInSummary *apperrors.NotInSummaryError
	if errors.As(err, &notInSummary) {
		logger.Info("Activity not in summary", "date", notInSummary.Date)
		return outcome.Skipped(outcome.ReasonActivityNotInSummary, id).With("date", notInSummary.Date), nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Activity removed from summary", "date", act.DateStr(), "source", hit.Source)
	return outcome.Processed(outcome.ActionDeleted, id).
		With("date", act.DateStr()).
		With("distance_miles", act.DistanceMiles()).
		With("source", string(hit.Source)).
		With("attempts", attempts), nil
}

// notFoundOnDelete separates a create still on its way through the
// warehouse, which is retried, from an activity that was never aggregated.
func (s *Service) notFoundOnDelete(evt *webhook.Event, nf *apperrors.ActivityNotFoundError, logger *slog.Logger) (*outcome.Result, error) {
	switch nf.Reason {
	case apperrors.ReasonNotYetSynced:
		logger.Warn("Activity staged but not merged yet, retrying")
		return nil, nf
	case apperrors.ReasonNeverAggregated:
		if age := s.now().Sub(evt.Time()); age < s.opts.SyncGracePeriod {
			logger.Warn("Activity unknown to warehouse, retrying within grace period", "event_age", age)
			return nil, nf
		}
	}
	logger.Info("Activity not found in warehouse", "reason", nf.Reason.String())
	return outcome.Skipped(outcome.ReasonActivityNotFound, evt.ActivityID()).With("not_found_reason", nf.Reason.String()), nil
}

type mutation func(doc *summary.YearSummary) (next *summary.YearSummary, changed bool, err error)

// apply runs read, mutate, conditional replace for year and then rewrites
// the timeseries. A concurrent writer causes a fresh read and another
// attempt. It returns the number of attempts used.
func (s *Service) apply(ctx context.Context, year int, logger *slog.Logger, mutate mutation) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.SummaryWriteAttempts; attempt++ {
		snap, err := s.store.Read(ctx, year)
		if err != nil {
			return attempt, err
		}

		next, changed, err := mutate(snap.Summary)
		if err != nil {
			return attempt, err
		}

		if changed {
			if _, err := s.store.Replace(ctx, snap, next); err != nil {
				if errors.Is(err, apperrors.ErrConflict) {
					metrics.RecordSummaryConflict()
					logger.Warn("Summary changed concurrently, re-reading", "year", year, "attempt", attempt)
					lastErr = err
					continue
				}
				return attempt, err
			}
		}

		if err := s.store.WritePacing(ctx, year, s.pacing.Calculate(next, year)); err != nil {
			return attempt, err
		}
		return attempt, nil
	}
	return s.opts.SummaryWriteAttempts, lastErr
}
