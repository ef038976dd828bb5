// Package dispatcher receives Strava webhooks over HTTP and republishes
// them on Pub/Sub for the downstream functions.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	httputil "github.com/desirelines/pipeline/pkg/infrastructure/http"
	"github.com/desirelines/pipeline/pkg/infrastructure/metrics"
	"github.com/desirelines/pipeline/pkg/infrastructure/sentry"
)

const (
	EntryPoint  = "DispatchWebhook"
	serviceName = "dispatcher"

	maxBodySize = 64 * 1024
	sourceName  = "strava-webhook"
)

func init() {
	if !bootstrap.IsFunctionTarget(EntryPoint) {
		return
	}
	svc, err := bootstrap.NewService(context.Background(), serviceName, bootstrap.WithPublisher())
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		functions.HTTP(EntryPoint, func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteError(w, http.StatusInternalServerError, "service unavailable")
		})
		return
	}
	functions.HTTP(EntryPoint, New(svc).ServeHTTP)
}

type handler struct {
	pub    shared.Publisher
	topic  string
	logger *slog.Logger
}

// New returns the dispatcher router.
func New(svc *bootstrap.Service) http.Handler {
	h := &handler{pub: svc.Pub, topic: svc.Config.PubSubTopic, logger: svc.Logger}

	r := chi.NewRouter()
	r.Head("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Post("/", h.receive)
	return r
}

type receipt struct {
	Success       string `json:"success"`
	CorrelationID string `json:"correlation_id"`
}

func (h *handler) receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	correlationID := uuid.NewString()
	logger := h.logger.With("correlation_id", correlationID)

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		logger.Warn("Failed to read webhook body", "error", err)
		httputil.WriteError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	evt, err := webhook.Parse(payload)
	if errors.Is(err, webhook.ErrUnsupportedObject) {
		logger.Info("Ignoring non-activity webhook", "object_type", evt.ObjectType, "object_id", evt.ObjectID)
		metrics.RecordEvent(serviceName, evt.AspectType.String(), "skipped", "unsupported-object", time.Since(start))
		httputil.WriteJSON(w, http.StatusOK, receipt{Success: "true", CorrelationID: correlationID})
		return
	}
	if err != nil {
		logger.Warn("Rejected webhook", "error", err)
		metrics.RecordEvent(serviceName, "unknown", "failed", "invalid-payload", time.Since(start))
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger = logger.With("activity_id", evt.ActivityID(), "aspect_type", evt.AspectType.String())

	attrs := map[string]string{
		shared.AttrCorrelationID: correlationID,
		shared.AttrAspectType:    evt.AspectType.String(),
		shared.AttrSource:        sourceName,
	}
	msgID, err := h.pub.Publish(r.Context(), h.topic, payload, attrs)
	if err != nil {
		logger.Error("Failed to publish webhook", "error", err, "topic", h.topic)
		sentry.CaptureException(err, map[string]string{"service": serviceName, "correlation_id": correlationID}, logger)
		metrics.RecordEvent(serviceName, evt.AspectType.String(), "failed", "publish", time.Since(start))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to publish webhook")
		return
	}

	logger.Info("Webhook published", "message_id", msgID, "topic", h.topic)
	metrics.RecordEvent(serviceName, evt.AspectType.String(), "processed", "", time.Since(start))
	httputil.WriteJSON(w, http.StatusCreated, receipt{Success: "true", CorrelationID: correlationID})
}
