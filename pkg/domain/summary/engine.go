package summary

import (
	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/domain/activity"
)

// MergeResult says what MergeCreate did.
type MergeResult int

const (
	// Merged means the activity was added.
	Merged MergeResult = iota
	// Duplicate means the activity was already counted for its day.
	Duplicate
	// Filtered means the activity type is not aggregated.
	Filtered
)

func (r MergeResult) String() string {
	switch r {
	case Merged:
		return "merged"
	case Duplicate:
		return "duplicate"
	case Filtered:
		return "filtered"
	default:
		return "unknown"
	}
}

// Changed reports whether the document differs from its input.
func (r MergeResult) Changed() bool { return r == Merged }

// Engine applies create and delete events to a YearSummary.
// It never mutates its input and performs no I/O.
type Engine struct {
	filter activity.TypeFilter
}

// NewEngine returns an engine aggregating the types allowed by filter.
func NewEngine(filter activity.TypeFilter) *Engine {
	return &Engine{filter: filter}
}

// Allows reports whether act counts towards the summary.
func (e *Engine) Allows(act activity.Summary) bool {
	return e.filter.Allows(act.Type)
}

// MergeCreate returns doc with act added. Replaying the same activity is a
// no-op, as is an activity whose type is filtered out.
func (e *Engine) MergeCreate(doc *YearSummary, act activity.Summary) (*YearSummary, MergeResult) {
	out := doc.Clone()
	if !e.Allows(act) {
		return out, Filtered
	}

	date := act.DateStr()
	if entry, ok := out.days[date]; ok && entry.Contains(act.ID) {
		return out, Duplicate
	}

	out.add(date, act.ID, act.DistanceMiles())
	return out, Merged
}

// RemoveDelete returns doc with act removed. A day left without activities
// is dropped. An activity missing from its day is a NotInSummaryError.
func (e *Engine) RemoveDelete(doc *YearSummary, act activity.Summary) (*YearSummary, error) {
	date := act.DateStr()
	entry, ok := doc.Day(date)
	if !ok || !entry.Contains(act.ID) {
		return nil, &apperrors.NotInSummaryError{ActivityID: act.ID, Date: date}
	}

	out := doc.Clone()
	out.remove(date, act.ID, act.DistanceMiles())
	return out, nil
}
