// Package warehouse defines the analytical store contract shared by the
// BigQuery, Postgres and SQLite backends.
//
// Writes use a stage-then-merge upsert: the detailed record is appended to
// activities_staging, then merged into activities keyed by id, keeping the
// most recent staged row per id. Deletes copy the row into
// deleted_activities before removing it from activities.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
)

const (
	TablePrimary = "activities"
	TableStaging = "activities_staging"
	TableArchive = "deleted_activities"
)

// Source names the table a lookup matched in.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceArchive Source = "archive"
	SourceStaging Source = "staging"
)

// priority orders sources when an id matches more than one table.
func (s Source) priority() int {
	switch s {
	case SourcePrimary:
		return 1
	case SourceArchive:
		return 2
	case SourceStaging:
		return 3
	default:
		return 99
	}
}

// Stats describes one stage-then-merge write.
type Stats struct {
	StagedRows    int64
	RowsAffected  int64
	ExecutionTime time.Duration
}

// LookupResult is a metadata hit.
type LookupResult struct {
	Activity activity.Summary
	Source   Source
}

// Deletion carries the metadata stored alongside an archived row.
type Deletion struct {
	ActivityID    int64
	EventTime     time.Time
	CorrelationID string
}

// Outcome is the result of ArchiveAndRemove.
type Outcome int

const (
	Processed Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Warehouse is implemented by every backend.
type Warehouse interface {
	// Write upserts the record via staging. Errors are transient.
	Write(ctx context.Context, rec *activity.Record) (Stats, error)
	// LookupMetadata searches the primary, archive and staging tables.
	// A miss returns *apperrors.ActivityNotFoundError whose Reason is
	// ReasonNotYetSynced when only a staged row exists and
	// ReasonNeverAggregated otherwise.
	LookupMetadata(ctx context.Context, activityID int64) (LookupResult, error)
	// ArchiveAndRemove moves the row to the archive table. It returns
	// Skipped when the row is in neither the primary table nor freshly archived.
	ArchiveAndRemove(ctx context.Context, del Deletion) (Outcome, error)
	Close() error
}

// Resolve picks the authoritative hit among candidates matched by a union
// query. Primary and archive hits are returned as found. A staging-only hit
// means the merge has not run yet.
func Resolve(activityID int64, hits []LookupResult) (LookupResult, error) {
	var best *LookupResult
	for i := range hits {
		if best == nil || hits[i].Source.priority() < best.Source.priority() {
			best = &hits[i]
		}
	}

	switch {
	case best == nil:
		return LookupResult{}, &apperrors.ActivityNotFoundError{ActivityID: activityID, Reason: apperrors.ReasonNeverAggregated}
	case best.Source == SourceStaging:
		return LookupResult{}, &apperrors.ActivityNotFoundError{ActivityID: activityID, Reason: apperrors.ReasonNotYetSynced}
	default:
		return *best, nil
	}
}

// WithTimeout bounds a single warehouse call. A zero timeout leaves ctx as is.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ParseLocalStart parses start_date_local as stored by the SQL backends.
func ParseLocalStart(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// FormatLocalStart keeps the upstream wall clock with its Z suffix.
func FormatLocalStart(t time.Time) string {
	return t.Format(time.RFC3339)
}
