package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/domain/activity"
	"github.com/desirelines/pipeline/pkg/execution"
	"github.com/desirelines/pipeline/pkg/infrastructure/database"
	"github.com/desirelines/pipeline/pkg/infrastructure/oauth"
	infrapubsub "github.com/desirelines/pipeline/pkg/infrastructure/pubsub"
	"github.com/desirelines/pipeline/pkg/infrastructure/sentry"
	infrastorage "github.com/desirelines/pipeline/pkg/infrastructure/storage"
	bqwarehouse "github.com/desirelines/pipeline/pkg/infrastructure/warehouse/bigquery"
	pgwarehouse "github.com/desirelines/pipeline/pkg/infrastructure/warehouse/postgres"
	sqlitewarehouse "github.com/desirelines/pipeline/pkg/infrastructure/warehouse/sqlite"
	"github.com/desirelines/pipeline/pkg/integrations/strava"
	"github.com/desirelines/pipeline/pkg/retry"
	"github.com/desirelines/pipeline/pkg/warehouse"
)

// Service holds the dependencies one function needs. Fields for clients
// that were not requested stay nil.
type Service struct {
	Name      string
	Config    *Config
	Logger    *slog.Logger
	Blobs     shared.VersionedBlobStore
	Pub       shared.Publisher
	Warehouse warehouse.Warehouse
	Strava    *strava.Client
	Ledger    execution.Ledger

	closers []func() error
}

type options struct {
	blobs     bool
	publisher bool
	warehouse bool
	strava    bool
	config    *Config
}

// Option selects a dependency to construct.
type Option func(*options)

func WithBlobStore() Option { return func(o *options) { o.blobs = true } }
func WithPublisher() Option { return func(o *options) { o.publisher = true } }
func WithWarehouse() Option { return func(o *options) { o.warehouse = true } }
func WithStrava() Option    { return func(o *options) { o.strava = true } }

// WithConfig skips LoadConfig and uses cfg.
func WithConfig(cfg *Config) Option { return func(o *options) { o.config = cfg } }

// NewService builds every requested adapter up front. A failure closes
// whatever was already opened.
func NewService(ctx context.Context, name string, opts ...Option) (svc *Service, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if cfg == nil {
		if cfg, err = LoadConfig(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	logger := NewLogger(name, cfg.LogLevel)
	built := &Service{Name: name, Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = built.Close()
		}
	}()
	svc = built

	logger.Info("Initializing service", "project_id", cfg.ProjectID, "environment", cfg.Environment)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  name,
	}, logger); err != nil {
		return nil, err
	}

	if svc.Ledger, err = newLedger(ctx, svc); err != nil {
		return nil, err
	}
	if o.blobs {
		if svc.Blobs, err = newBlobStore(ctx, svc); err != nil {
			return nil, err
		}
	}
	if o.publisher {
		if svc.Pub, err = newPublisher(ctx, svc); err != nil {
			return nil, err
		}
	}
	if o.warehouse {
		wh, err := NewWarehouse(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		svc.Warehouse = wh
		svc.closers = append(svc.closers, wh.Close)
	}
	if o.strava {
		svc.Strava = NewStravaClient(cfg, logger)
	}
	return svc, nil
}

// Close releases every client opened by NewService.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// ActivityFilter is the configured allow-list of aggregated activity types.
func (c *Config) ActivityFilter() activity.TypeFilter {
	types := make([]activity.Type, 0, len(c.AllowedActivityTypes))
	for _, t := range c.AllowedActivityTypes {
		types = append(types, activity.ParseType(t))
	}
	return activity.NewTypeFilter(types...)
}

func newLedger(ctx context.Context, svc *Service) (execution.Ledger, error) {
	if !svc.Config.EnableExecutionLog {
		return execution.LogLedger{Logger: svc.Logger}, nil
	}
	fsClient, err := firestore.NewClient(ctx, svc.Config.ProjectID)
	if err != nil {
		svc.Logger.Error("Firestore init failed", "error", err)
		return nil, fmt.Errorf("firestore init: %w", err)
	}
	adapter := database.NewFirestoreAdapter(fsClient)
	svc.closers = append(svc.closers, adapter.Close)
	svc.Logger.Info("Execution log: Firestore")
	return execution.NewLedger(adapter), nil
}

func newBlobStore(ctx context.Context, svc *Service) (shared.VersionedBlobStore, error) {
	cfg := svc.Config
	if cfg.DataSource == DataSourceLocalFixtures {
		store, err := infrastorage.NewLocalStore(cfg.LocalFixturesPath)
		if err != nil {
			return nil, err
		}
		svc.Logger.Info("Storage: local fixtures", "path", cfg.LocalFixturesPath)
		return store, nil
	}

	if cfg.DataBucket == "" {
		return nil, errors.New("DATA_BUCKET is required for cloud storage")
	}
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		svc.Logger.Error("Storage init failed", "error", err)
		return nil, fmt.Errorf("storage init: %w", err)
	}
	svc.closers = append(svc.closers, gcsClient.Close)
	svc.Logger.Info("Storage: Cloud Storage", "bucket", cfg.DataBucket)
	return &infrastorage.StorageAdapter{Client: gcsClient}, nil
}

func newPublisher(ctx context.Context, svc *Service) (shared.Publisher, error) {
	if !svc.Config.EnablePublish {
		svc.Logger.Info("Pub/Sub: MOCK (LogPublisher)")
		return &infrapubsub.LogPublisher{Logger: svc.Logger}, nil
	}
	psClient, err := pubsub.NewClient(ctx, svc.Config.ProjectID)
	if err != nil {
		svc.Logger.Error("PubSub init failed", "error", err)
		return nil, fmt.Errorf("pubsub init: %w", err)
	}
	svc.closers = append(svc.closers, psClient.Close)
	svc.Logger.Info("Pub/Sub: REAL (ENABLE_PUBLISH=true)", "topic", svc.Config.PubSubTopic)
	return &infrapubsub.PubSubAdapter{Client: psClient}, nil
}

// NewWarehouse opens the configured warehouse backend.
func NewWarehouse(ctx context.Context, cfg *Config, logger *slog.Logger) (warehouse.Warehouse, error) {
	switch cfg.Warehouse.Backend {
	case WarehouseBigQuery:
		client, err := bigquery.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("bigquery init: %w", err)
		}
		wh, err := bqwarehouse.New(ctx, client, cfg.Warehouse.BigQueryDataset, cfg.RequestTimeout, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return wh, nil
	case WarehousePostgres:
		if cfg.Warehouse.PostgresURL == "" {
			return nil, errors.New("POSTGRES_URL is required for the postgres warehouse")
		}
		wh, err := pgwarehouse.New(ctx, cfg.Warehouse.PostgresURL, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
		if err := wh.EnsureSchema(ctx); err != nil {
			wh.Close()
			return nil, err
		}
		return wh, nil
	case WarehouseSQLite:
		return sqlitewarehouse.New(cfg.Warehouse.SQLitePath, cfg.RequestTimeout)
	default:
		return nil, fmt.Errorf("unknown warehouse backend %q", cfg.Warehouse.Backend)
	}
}

// NewStravaClient wires the token broker into an authenticated API client.
func NewStravaClient(cfg *Config, logger *slog.Logger) *strava.Client {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second}

	broker := oauth.NewBroker(
		cfg.Strava.TokenURL,
		httpClient,
		retry.Fixed(cfg.TokenRetryAttempts, cfg.TokenRetryBackoff),
		cfg.RequestTimeout,
		logger.With("component", "oauth"),
	)
	source := oauth.NewRefreshingSource(broker, oauth.TokenSet{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RefreshToken: cfg.Strava.RefreshToken,
	})

	return strava.NewClient(
		cfg.Strava.APIBaseURL,
		oauth.NewClient(source, nil),
		retry.Fixed(cfg.ActivityRetryAttempts, cfg.ActivityRetryBackoff),
		cfg.RequestTimeout,
		logger.With("component", "strava"),
	)
}

// IsFunctionTarget reports whether this process serves the named entry
// point. Function packages build their service only when it does, so
// importing a function package never dials a backend.
func IsFunctionTarget(entryPoint string) bool {
	return os.Getenv("FUNCTION_TARGET") == entryPoint
}
