package warehousesync

import (
	"context"
	"fmt"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	"github.com/desirelines/pipeline/pkg/framework"
	"github.com/desirelines/pipeline/pkg/outcome"
	whsync "github.com/desirelines/pipeline/pkg/warehousesync"
)

const (
	EntryPoint  = "SyncWarehouse"
	serviceName = "warehouse-sync"
)

func init() {
	if !bootstrap.IsFunctionTarget(EntryPoint) {
		return
	}
	svc, err := bootstrap.NewService(context.Background(), serviceName,
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
	service := whsync.NewService(svc.Strava, svc.Warehouse)
	return framework.WrapWebhook(svc, func(ctx context.Context, evt *webhook.Event, fwCtx *framework.FrameworkContext) (*outcome.Result, error) {
		return service.Handle(ctx, evt, fwCtx.CorrelationID, fwCtx.Logger)
	})
}
