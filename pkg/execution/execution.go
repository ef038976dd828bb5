// Package execution records one ledger entry per handler invocation.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/desirelines/pipeline/pkg/outcome"
)

// ErrNotFound is returned by stores for an unknown execution id.
var ErrNotFound = errors.New("execution not found")

const (
	StatusStarted = "started"
	// StatusError marks an invocation that returned an error for redelivery.
	StatusError = "error"
)

// Record is one invocation.
type Record struct {
	ExecutionID   string
	Service       string
	TriggerType   string
	CorrelationID string
	MessageID     string
	ActivityID    int64
	Aspect        string
	Status        string
	Reason        string
	ErrorMessage  string
	OutputsJSON   string
	StartTime     time.Time
	EndTime       time.Time
}

// Store persists records.
type Store interface {
	SetExecution(ctx context.Context, rec *Record) error
	UpdateExecution(ctx context.Context, id string, data map[string]interface{}) error
	GetExecution(ctx context.Context, id string) (*Record, error)
}

// Ledger is what handlers talk to.
type Ledger interface {
	Start(ctx context.Context, rec *Record) (string, error)
	Finish(ctx context.Context, id string, res *outcome.Result, handlerErr error) error
}

// StoreLedger writes to a Store.
type StoreLedger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *StoreLedger {
	return &StoreLedger{store: store, now: time.Now}
}

// Start creates the record and returns its id, generating one if needed.
func (l *StoreLedger) Start(ctx context.Context, rec *Record) (string, error) {
	if rec.ExecutionID == "" {
		rec.ExecutionID = uuid.NewString()
	}
	rec.Status = StatusStarted
	rec.StartTime = l.now()
	return rec.ExecutionID, l.store.SetExecution(ctx, rec)
}

// Finish stores the terminal state of the invocation.
func (l *StoreLedger) Finish(ctx context.Context, id string, res *outcome.Result, handlerErr error) error {
	return l.store.UpdateExecution(ctx, id, finishFields(res, handlerErr, l.now()))
}

func finishFields(res *outcome.Result, handlerErr error, end time.Time) map[string]interface{} {
	data := map[string]interface{}{
		"end_time": end,
	}
	if handlerErr != nil {
		data["status"] = StatusError
		data["error_message"] = handlerErr.Error()
	}
	if res != nil {
		if handlerErr == nil {
			data["status"] = string(res.Status)
		}
		if res.Reason != "" {
			data["reason"] = string(res.Reason)
		}
		if res.ActivityID != 0 {
			data["activity_id"] = res.ActivityID
		}
		if res.Error != "" {
			data["error_message"] = res.Error
		}
		if out, err := json.Marshal(res); err == nil {
			data["outputs_json"] = string(out)
		}
	}
	return data
}

// LogLedger only logs. It is used when the persistent ledger is disabled.
type LogLedger struct {
	Logger *slog.Logger
}

func (l LogLedger) Start(ctx context.Context, rec *Record) (string, error) {
	if rec.ExecutionID == "" {
		rec.ExecutionID = uuid.NewString()
	}
	return rec.ExecutionID, nil
}

func (l LogLedger) Finish(ctx context.Context, id string, res *outcome.Result, handlerErr error) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"execution_id", id}
	for k, v := range finishFields(res, handlerErr, time.Now()) {
		if k == "outputs_json" || k == "end_time" {
			continue
		}
		attrs = append(attrs, k, v)
	}
	logger.Debug("Execution finished", attrs...)
	return nil
}
