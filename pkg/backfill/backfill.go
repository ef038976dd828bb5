// Package backfill rebuilds or replays a full year of activities.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/domain/pacing"
	"github.com/desirelines/pipeline/pkg/domain/summary"
	"github.com/desirelines/pipeline/pkg/domain/webhook"
	infrapubsub "github.com/desirelines/pipeline/pkg/infrastructure/pubsub"
	"github.com/desirelines/pipeline/pkg/summarystore"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// Mode selects what Run does with the fetched activities.
type Mode string

const (
	// ModeRebuild recomputes the year's documents in-process.
	ModeRebuild Mode = "rebuild"
	// ModeReplay sends one Pub/Sub-shaped CloudEvent per activity to a running function.
	ModeReplay Mode = "replay"
	// ModePublish publishes one create webhook per activity.
	ModePublish Mode = "publish"

	sourceName = "backfill"
	// subscriptionID stands in for the webhook subscription on synthesized events.
	subscriptionID = 1
)

// ParseMode validates a -mode flag value.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRebuild, ModeReplay, ModePublish:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected rebuild, replay or publish)", s)
	}
}

// Source lists every activity of a year.
type Source interface {
	RecordsByYear(ctx context.Context, year int) ([]activity.Record, error)
}

// Sender delivers a CloudEvent. The cloudevents HTTP client satisfies it.
type Sender interface {
	Send(ctx context.Context, e event.Event) protocol.Result
}

type Options struct {
	Year          int
	Mode          Mode
	DryRun        bool
	SkipWarehouse bool
	// RateLimit bounds replay and publish in events per second. Zero means unlimited.
	RateLimit float64
}

// Deps are the collaborators Run may use. Only the ones the mode needs must be set.
type Deps struct {
	Source    Source
	Warehouse warehouse.Warehouse
	Store     *summarystore.Store
	Engine    *summary.Engine
	Pacing    *pacing.Calculator

	Publisher shared.Publisher
	Topic     string
	Sender    Sender
	ProjectID string

	Logger *slog.Logger
}

// Report summarises one run.
type Report struct {
	Year       int
	Mode       Mode
	DryRun     bool
	Fetched    int
	Warehoused int
	Aggregated int
	Filtered   int
	Duplicates int
	Sent       int
	Miles      float64
	Elapsed    time.Duration
}

// Print writes the report with locale-aware number formatting.
func (r *Report) Print(w io.Writer) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Backfill %s (%s)", strconv.Itoa(r.Year), r.Mode)
	if r.DryRun {
		p.Fprintf(w, " [dry run]")
	}
	p.Fprintf(w, "\n")
	p.Fprintf(w, "  activities fetched:    %d\n", r.Fetched)
	switch r.Mode {
	case ModeRebuild:
		p.Fprintf(w, "  warehouse rows:        %d\n", r.Warehoused)
		p.Fprintf(w, "  aggregated:            %d\n", r.Aggregated)
		p.Fprintf(w, "  filtered by type:      %d\n", r.Filtered)
		p.Fprintf(w, "  duplicates:            %d\n", r.Duplicates)
		p.Fprintf(w, "  total miles:           %.2f\n", r.Miles)
	default:
		p.Fprintf(w, "  events sent:           %d\n", r.Sent)
	}
	p.Fprintf(w, "  elapsed:               %s\n", r.Elapsed.Round(time.Millisecond))
}

// Run fetches the year's activities and applies opts.Mode.
func Run(ctx context.Context, deps Deps, opts Options) (*Report, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("year", opts.Year, "mode", opts.Mode, "dry_run", opts.DryRun)
	start := time.Now()

	listed, err := deps.Source.RecordsByYear(ctx, opts.Year)
	if err != nil {
		return nil, fmt.Errorf("list activities for %d: %w", opts.Year, err)
	}
	records := inLocalYear(listed, opts.Year)
	logger.Info("Fetched activities", "count", len(records), "outside_year", len(listed)-len(records))

	report := &Report{Year: opts.Year, Mode: opts.Mode, DryRun: opts.DryRun, Fetched: len(records)}
	switch opts.Mode {
	case ModeRebuild:
		err = rebuild(ctx, deps, opts, records, report, logger)
	case ModeReplay, ModePublish:
		err = send(ctx, deps, opts, records, report, logger)
	default:
		err = fmt.Errorf("unknown mode %q", opts.Mode)
	}
	report.Elapsed = time.Since(start)
	return report, err
}

// inLocalYear keeps the records whose local start date falls in year, the
// same year the webhook path aggregates them into.
func inLocalYear(records []activity.Record, year int) []activity.Record {
	out := make([]activity.Record, 0, len(records))
	for _, rec := range records {
		if rec.Summary().Year() == year {
			out = append(out, rec)
		}
	}
	return out
}

func rebuild(ctx context.Context, deps Deps, opts Options, records []activity.Record, report *Report, logger *slog.Logger) error {
	doc := summary.New()
	for i := range records {
		rec := &records[i]
		if !opts.SkipWarehouse && !opts.DryRun && deps.Warehouse != nil {
			if _, err := deps.Warehouse.Write(ctx, rec); err != nil {
				return fmt.Errorf("warehouse write for activity %d: %w", rec.ID, err)
			}
			report.Warehoused++
		}

		act := rec.Summary()
		var res summary.MergeResult
		doc, res = deps.Engine.MergeCreate(doc, act)
		switch res {
		case summary.Merged:
			report.Aggregated++
		case summary.Duplicate:
			report.Duplicates++
		case summary.Filtered:
			report.Filtered++
		}
	}
	report.Miles = doc.TotalMiles()

	if opts.DryRun {
		logger.Info("Dry run, summary not written", "days", doc.Len(), "miles", report.Miles)
		return nil
	}
	if err := deps.Store.Write(ctx, doc, opts.Year); err != nil {
		return err
	}
	if err := deps.Store.WritePacing(ctx, opts.Year, deps.Pacing.Calculate(doc, opts.Year)); err != nil {
		return err
	}
	logger.Info("Summary rebuilt", "days", doc.Len(), "miles", report.Miles)
	return nil
}

func send(ctx context.Context, deps Deps, opts Options, records []activity.Record, report *Report, logger *slog.Logger) error {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := range records {
		rec := &records[i]
		payload, err := createPayload(rec, time.Now())
		if err != nil {
			return err
		}
		if opts.DryRun {
			logger.Info("Dry run, event not sent", "activity_id", rec.ID)
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		correlationID := uuid.NewString()
		attrs := map[string]string{
			shared.AttrCorrelationID: correlationID,
			shared.AttrAspectType:    webhook.AspectCreate.String(),
			shared.AttrSource:        sourceName,
		}
		if opts.Mode == ModePublish {
			if _, err := deps.Publisher.Publish(ctx, deps.Topic, payload, attrs); err != nil {
				return fmt.Errorf("publish activity %d: %w", rec.ID, err)
			}
		} else {
			e, err := infrapubsub.NewMessagePublishedEvent(deps.ProjectID, deps.Topic, correlationID, payload, attrs)
			if err != nil {
				return err
			}
			if res := deps.Sender.Send(ctx, e); !protocol.IsACK(res) {
				return fmt.Errorf("replay activity %d: %w", rec.ID, res)
			}
		}
		report.Sent++
		logger.Debug("Event sent", "activity_id", rec.ID, "correlation_id", correlationID)
	}
	return nil
}

// createPayload synthesizes the webhook a create of rec would have produced.
func createPayload(rec *activity.Record, now time.Time) ([]byte, error) {
	owner := rec.Athlete.ID
	if owner == 0 {
		owner = 1
	}
	return json.Marshal(webhook.Event{
		AspectType:     webhook.AspectCreate,
		EventTime:      now.Unix(),
		ObjectID:       rec.ID,
		ObjectType:     webhook.ObjectActivity,
		OwnerID:        owner,
		SubscriptionID: subscriptionID,
		Updates:        map[string]any{},
	})
}
