package aggregator

import (
	"context"
	"fmt"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	agg "github.com/desirelines/pipeline/pkg/aggregator"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/pacing"
	"github.com/desirelines/pipeline/pkg/domain/summary"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/framework"
	"github.com/desirelines/pipeline/pkg/outcome"
	"github.com/desirelines/pipeline/pkg/summarystore"
)

const (
	EntryPoint  = "Aggregate"
	serviceName = "aggregator"
)

func init() {
	if !bootstrap.IsFunctionTarget(EntryPoint) {
		return
	}
	svc, err := bootstrap.NewService(context.Background(), serviceName,
		bootstrap.WithBlobStore(),
		bootstrap.WithWarehouse(),
		bootstrap.WithStrava(),
	)
	if err != nil {
		functions.CloudEvent(EntryPoint, func(ctx context.Context, e event.Event) error {
			return fmt.Errorf("service init failed: %w", err)
		})
		return
	}
	functions.CloudEvent(EntryPoint, New(svc))
}

// New builds the Pub/Sub handler around svc.
func New(svc *bootstrap.Service) func(context.Context, event.Event) error {
	cfg := svc.Config
	store := summarystore.New(svc.Blobs, cfg.DataBucket)
	store.Logger = svc.Logger
	service := agg.NewService(
		svc.Strava,
		svc.Warehouse,
		store,
		summary.NewEngine(cfg.ActivityFilter()),
		pacing.NewCalculator(cfg.PacingTimezone),
		agg.Options{
			SummaryWriteAttempts: cfg.SummaryWriteAttempts,
			SyncGracePeriod:      cfg.SyncGracePeriod,
		},
	)
	return framework.WrapWebhook(svc, func(ctx context.Context, evt *webhook.Event, fwCtx *framework.FrameworkContext) (*outcome.Result, error) {
		return service.Handle(ctx, evt, fwCtx.Logger)
	})
}
