// Command backfill rebuilds a year of summaries or replays its activities
// through the webhook pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/desirelines/pipeline/pkg/backfill"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/domain/pacing"
	"github.com/desirelines/pipeline/pkg/domain/summary"
	"github.com/desirelines/pipeline/pkg/summarystore"
)

func main() {
	year := flag.Int("year", 0, "Year to backfill (required)")
	mode := flag.String("mode", string(backfill.ModeRebuild), "rebuild, replay or publish")
	dryRun := flag.Bool("dry-run", false, "Fetch and aggregate without writing or sending")
	target := flag.String("target", "http://localhost:8080", "Function URL for replay mode")
	rateLimit := flag.Float64("rate-limit", 5, "Events per second for replay and publish (0 = unlimited)")
	skipWarehouse := flag.Bool("skip-warehouse", false, "Do not write records to the warehouse in rebuild mode")
	flag.Parse()

	if *year == 0 {
		fmt.Fprintln(os.Stderr, "Please provide the year with -year")
		os.Exit(2)
	}
	m, err := backfill.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, m, backfill.Options{
		Year:          *year,
		Mode:          m,
		DryRun:        *dryRun,
		SkipWarehouse: *skipWarehouse,
		RateLimit:     *rateLimit,
	}, *target); err != nil {
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, m backfill.Mode, opts backfill.Options, target string) error {
	svcOpts := []bootstrap.Option{bootstrap.WithStrava()}
	switch m {
	case backfill.ModeRebuild:
		svcOpts = append(svcOpts, bootstrap.WithBlobStore())
		if !opts.SkipWarehouse && !opts.DryRun {
			svcOpts = append(svcOpts, bootstrap.WithWarehouse())
		}
	case backfill.ModePublish:
		svcOpts = append(svcOpts, bootstrap.WithPublisher())
	}

	svc, err := bootstrap.NewService(ctx, "backfill", svcOpts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := svc.Config
	deps := backfill.Deps{
		Source:    svc.Strava,
		Warehouse: svc.Warehouse,
		Engine:    summary.NewEngine(cfg.ActivityFilter()),
		Pacing:    pacing.NewCalculator(cfg.PacingTimezone),
		Publisher: svc.Pub,
		Topic:     cfg.PubSubTopic,
		ProjectID: cfg.ProjectID,
		Logger:    svc.Logger,
	}
	if svc.Blobs != nil {
		deps.Store = summarystore.New(svc.Blobs, cfg.DataBucket)
		deps.Store.Logger = svc.Logger
	}
	if m == backfill.ModeReplay {
		client, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(target))
		if err != nil {
			return fmt.Errorf("cloudevents client: %w", err)
		}
		deps.Sender = client
	}

	report, err := backfill.Run(ctx, deps, opts)
	if report != nil {
		report.Print(os.Stdout)
	}
	return err
}
