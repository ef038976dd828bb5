package framework

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/execution"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/testing/mocks"
)

const createPayload = `{"aspect_type":"create","event_time":1672531200,"object_id":42,"object_type":"activity","owner_id":7,"subscription_id":1,"updates":{}}`

type finished struct {
	id  string
	res *outcome.Result
	err error
}

func newTestService(t *testing.T) (*bootstrap.Service, *[]*execution.Record, *[]finished) {
	t.Helper()
	var started []*execution.Record
	var done []finished
	svc := &bootstrap.Service{
		Name:   "test-service",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Ledger: &mocks.MockLedger{
			StartFunc: func(ctx context.Context, rec *execution.Record) (string, error) {
				started = append(started, rec)
				return "exec-1", nil
			},
			FinishFunc: func(ctx context.Context, id string, res *outcome.Result, handlerErr error) error {
				done = append(done, finished{id: id, res: res, err: handlerErr})
				return nil
			},
		},
	}
	return svc, &started, &done
}

func newEvent(t *testing.T, payload string, attrs map[string]string) event.Event {
	t.Helper()
	data, err := webhook.EncodeEnvelope([]byte(payload), "msg-1", attrs)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	e := event.New()
	e.SetID("ce-1")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("test-source")
	if err := e.SetData(event.ApplicationJSON, data); err != nil {
		t.Fatalf("set data: %v", err)
	}
	return e
}

func TestWrapWebhook_Success(t *testing.T) {
	svc, started, done := newTestService(t)

	handler := func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error) {
		if fwCtx.Service != svc {
			t.Error("Service not injected correctly")
		}
		if fwCtx.ExecutionID != "exec-1" {
			t.Errorf("Expected execution id exec-1, got %q", fwCtx.ExecutionID)
		}
		if fwCtx.CorrelationID != "corr-from-dispatcher" {
			t.Errorf("Expected correlation id from attributes, got %q", fwCtx.CorrelationID)
		}
		if evt.ActivityID() != 42 {
			t.Errorf("Expected activity 42, got %d", evt.ActivityID())
		}
		return outcome.Processed(outcome.ActionCreated, evt.ActivityID()), nil
	}

	err := WrapWebhook(svc, handler)(context.Background(), newEvent(t, createPayload, map[string]string{"correlation_id": "corr-from-dispatcher"}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(*started) != 1 {
		t.Fatalf("Expected one ledger start, got %d", len(*started))
	}
	rec := (*started)[0]
	if rec.MessageID != "msg-1" || rec.ActivityID != 42 || rec.Aspect != "create" || rec.TriggerType != "pubsub" {
		t.Errorf("Unexpected start record: %+v", rec)
	}

	if len(*done) != 1 {
		t.Fatalf("Expected one ledger finish, got %d", len(*done))
	}
	res := (*done)[0].res
	if res.Status != outcome.StatusProcessed || res.CorrelationID != "corr-from-dispatcher" {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestWrapWebhook_GeneratesCorrelationID(t *testing.T) {
	svc, started, _ := newTestService(t)

	handler := func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error) {
		return outcome.Skipped(outcome.ReasonNonCreateEvent, evt.ActivityID()), nil
	}

	if err := WrapWebhook(svc, handler)(context.Background(), newEvent(t, createPayload, nil)); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if (*started)[0].CorrelationID == "" {
		t.Error("Expected a generated correlation id")
	}
}

func TestWrapWebhook_DecodeErrorIsAcknowledged(t *testing.T) {
	svc, _, done := newTestService(t)
	called := false
	handler := func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error) {
		called = true
		return nil, nil
	}

	e := event.New()
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("test-source")
	_ = e.SetData(event.ApplicationJSON, []byte(`{"message":{}}`))

	if err := WrapWebhook(svc, handler)(context.Background(), e); err != nil {
		t.Fatalf("Decode errors must not be redelivered, got %v", err)
	}
	if called {
		t.Error("Handler must not run for an undecodable message")
	}
	if len(*done) != 1 || (*done)[0].res.Status != outcome.StatusFailed {
		t.Errorf("Expected a failed result, got %+v", *done)
	}
}

func TestWrapWebhook_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReturn bool
	}{
		{"credential error is acknowledged", &apperrors.CredentialError{Operation: "refresh_token", StatusCode: 401}, false},
		{"upstream error is redelivered", &apperrors.UpstreamAPIError{Operation: "fetch_activity", StatusCode: 503}, true},
		{"storage error is redelivered", &apperrors.StorageError{Op: "read", Err: errors.New("unavailable")}, true},
		{"not yet synced is redelivered", &apperrors.ActivityNotFoundError{ActivityID: 42, Reason: apperrors.ReasonNotYetSynced}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, done := newTestService(t)
			handler := func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error) {
				return nil, tt.err
			}

			err := WrapWebhook(svc, handler)(context.Background(), newEvent(t, createPayload, nil))

			if tt.wantReturn {
				if !errors.Is(err, tt.err) {
					t.Errorf("Expected %v to be returned, got %v", tt.err, err)
				}
				if (*done)[0].err == nil {
					t.Error("Expected the ledger to record the handler error")
				}
				return
			}
			if err != nil {
				t.Errorf("Expected acknowledgement, got %v", err)
			}
			if res := (*done)[0].res; res == nil || res.Status != outcome.StatusFailed || res.ActivityID != 42 {
				t.Errorf("Expected failed result for activity 42, got %+v", res)
			}
		})
	}
}

func TestWrapWebhook_LedgerFailureDoesNotFailInvocation(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.Ledger = &mocks.MockLedger{
		StartFunc: func(ctx context.Context, rec *execution.Record) (string, error) {
			return "", errors.New("firestore unavailable")
		},
		FinishFunc: func(ctx context.Context, id string, res *outcome.Result, handlerErr error) error {
			return errors.New("firestore unavailable")
		},
	}
	handler := func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error) {
		return outcome.Processed(outcome.ActionCreated, 42), nil
	}

	if err := WrapWebhook(svc, handler)(context.Background(), newEvent(t, createPayload, nil)); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
