// Package outcome describes the structured result returned by every handler.
package outcome

// Status is the terminal state of one webhook delivery.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Action is what a processed delivery did.
type Action string

const (
	ActionCreated Action = "created"
	ActionDeleted Action = "deleted"
)

// Reason explains a skipped delivery.
type Reason string

const (
	ReasonNonCreateEvent       Reason = "non-create-event"
	ReasonActivityNotFound     Reason = "activity-not-found"
	ReasonActivityNotInSummary Reason = "activity-not-in-summary"
	ReasonUnsupportedType      Reason = "unsupported-type"
)

// Result is returned by handlers and recorded in the execution ledger.
type Result struct {
	Status        Status         `json:"status"`
	Action        Action         `json:"action,omitempty"`
	Reason        Reason         `json:"reason,omitempty"`
	ActivityID    int64          `json:"activity_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Processed builds a processed result.
func Processed(action Action, activityID int64) *Result {
	return &Result{Status: StatusProcessed, Action: action, ActivityID: activityID}
}

// Skipped builds a skipped result.
func Skipped(reason Reason, activityID int64) *Result {
	return &Result{Status: StatusSkipped, Reason: reason, ActivityID: activityID}
}

// Failed builds a failed result for errors that are acknowledged anyway.
func Failed(err error) *Result {
	r := &Result{Status: StatusFailed}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// With attaches a detail value and returns r.
func (r *Result) With(key string, value any) *Result {
	if r.Details == nil {
		r.Details = make(map[string]any)
	}
	r.Details[key] = value
	return r
}
