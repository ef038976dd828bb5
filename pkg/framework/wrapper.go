package framework

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/apperrors"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/execution"
	"github.com/desirelines/pipeline/pkg/infrastructure/metrics"
	"github.com/desirelines/pipeline/pkg/infrastructure/sentry"
	"github.com/desirelines/pipeline/pkg/outcome"
)

const sentryFlushTimeout = 2 * time.Second

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service       *bootstrap.Service
	Logger        *slog.Logger
	ExecutionID   string
	CorrelationID string
	Delivery      *webhook.Delivery
}

// WebhookHandler handles one decoded webhook event. Recoverable conditions
// come back as a skipped result, not an error.
type WebhookHandler func(ctx context.Context, evt *webhook.Event, fwCtx *FrameworkContext) (*outcome.Result, error)

// WrapWebhook adapts handler to a Pub/Sub CloudEvent function. It decodes
// the envelope, records the execution and decides delivery semantics:
// permanent errors are acknowledged with a failed result, anything else
// that fails is returned so the message is redelivered.
func WrapWebhook(svc *bootstrap.Service, handler WebhookHandler) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		start := time.Now()
		defer sentry.Flush(sentryFlushTimeout)

		logger := svc.Logger
		if logger == nil {
			logger = slog.Default()
		}
		defer sentry.RecoverAndCapture(logger)

		triggerType := "pubsub"
		if e.Type() == "google.cloud.functions.http" {
			triggerType = "http"
		}

		delivery, decodeErr := webhook.DecodeEnvelope(e.Data())

		correlationID := delivery.Attribute(shared.AttrCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		logger = logger.With("correlation_id", correlationID)

		rec := &execution.Record{
			Service:       svc.Name,
			TriggerType:   triggerType,
			CorrelationID: correlationID,
			MessageID:     e.ID(),
		}
		aspect := "unknown"
		if delivery != nil {
			evt := delivery.Event
			aspect = evt.AspectType.String()
			rec.MessageID = delivery.MessageID
			rec.ActivityID = evt.ActivityID()
			rec.Aspect = aspect
		}

		execID, err := svc.Ledger.Start(ctx, rec)
		if err != nil {
			logger.Warn("Failed to log execution start", "error", err)
		}
		logger = logger.With("execution_id", execID, "message_id", rec.MessageID)

		finish := func(res *outcome.Result, handlerErr error) {
			if err := svc.Ledger.Finish(ctx, execID, res, handlerErr); err != nil {
				logger.Warn("Failed to log execution result", "error", err)
			}
			status, reason := string(execution.StatusError), ""
			if res != nil {
				status, reason = string(res.Status), string(res.Reason)
			}
			metrics.RecordEvent(svc.Name, aspect, status, reason, time.Since(start))
		}
		tags := map[string]string{
			"service":        svc.Name,
			"correlation_id": correlationID,
			"execution_id":   execID,
		}

		if decodeErr != nil {
			logger.Error("Discarding undecodable message", "error", decodeErr)
			sentry.CaptureException(decodeErr, tags, logger)
			res := outcome.Failed(decodeErr)
			res.CorrelationID = correlationID
			finish(res, nil)
			return nil
		}

		logger = logger.With("activity_id", rec.ActivityID, "aspect_type", aspect)
		logger.Info("Function started")

		fwCtx := &FrameworkContext{
			Service:       svc,
			Logger:        logger,
			ExecutionID:   execID,
			CorrelationID: correlationID,
			Delivery:      delivery,
		}

		res, handlerErr := handler(ctx, delivery.Event, fwCtx)
		if handlerErr != nil {
			sentry.CaptureException(handlerErr, tags, logger)
			if apperrors.IsPermanent(handlerErr) {
				logger.Error("Function failed permanently, acknowledging", "error", handlerErr)
				res = outcome.Failed(handlerErr)
				res.ActivityID = rec.ActivityID
				res.CorrelationID = correlationID
				finish(res, nil)
				return nil
			}
			logger.Error("Function failed, requesting redelivery", "error", handlerErr)
			finish(nil, handlerErr)
			return handlerErr
		}

		if res == nil {
			res = &outcome.Result{Status: outcome.StatusProcessed, ActivityID: rec.ActivityID}
		}
		res.CorrelationID = correlationID
		logger.Info("Function completed",
			"status", res.Status,
			"action", res.Action,
			"reason", res.Reason,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		finish(res, nil)
		return nil
	}
}
