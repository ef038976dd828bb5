package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	shared "github.com/desirelines/pipeline/pkg"
)

const (
	DataSourceCloudStorage  = "cloud-storage"
	DataSourceLocalFixtures = "local-fixtures"

	WarehouseBigQuery = "bigquery"
	WarehousePostgres = "postgres"
	WarehouseSQLite   = "sqlite"
)

// Config holds standard configuration for all services
type Config struct {
	ProjectID         string `yaml:"project_id"`
	DataBucket        string `yaml:"data_bucket"`
	DataSource        string `yaml:"data_source"`
	LocalFixturesPath string `yaml:"local_fixtures_path"`

	Warehouse WarehouseConfig `yaml:"warehouse"`
	Strava    StravaConfig    `yaml:"strava"`

	RequestTimeout        time.Duration `yaml:"request_timeout"`
	TokenRetryAttempts    int           `yaml:"token_retry_attempts"`
	TokenRetryBackoff     time.Duration `yaml:"token_retry_backoff"`
	ActivityRetryAttempts int           `yaml:"activity_retry_attempts"`
	ActivityRetryBackoff  time.Duration `yaml:"activity_retry_backoff"`

	AllowedActivityTypes []string      `yaml:"allowed_activity_types"`
	SyncGracePeriod      time.Duration `yaml:"sync_grace_period"`
	SummaryWriteAttempts int           `yaml:"summary_write_attempts"`
	PacingTimezone       string        `yaml:"pacing_timezone"`

	PubSubTopic        string `yaml:"pubsub_topic"`
	EnablePublish      bool   `yaml:"enable_publish"`
	EnableExecutionLog bool   `yaml:"enable_execution_log"`

	SentryDSN      string        `yaml:"sentry_dsn"`
	Environment    string        `yaml:"environment"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	LogLevel       string        `yaml:"log_level"`
}

type WarehouseConfig struct {
	Backend         string `yaml:"backend"`
	BigQueryDataset string `yaml:"bigquery_dataset"`
	PostgresURL     string `yaml:"postgres_url"`
	SQLitePath      string `yaml:"sqlite_path"`
}

type StravaConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	TokenURL     string `yaml:"token_url"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ProjectID:         shared.ProjectID,
		DataSource:        DataSourceCloudStorage,
		LocalFixturesPath: "data/fixtures",
		Warehouse: WarehouseConfig{
			Backend:         WarehouseBigQuery,
			BigQueryDataset: "strava",
			SQLitePath:      "desirelines.db",
		},
		Strava: StravaConfig{
			TokenURL:   "https://www.strava.com/oauth/token",
			APIBaseURL: "https://www.strava.com/api/v3",
		},
		RequestTimeout:        10 * time.Second,
		TokenRetryAttempts:    2,
		TokenRetryBackoff:     500 * time.Millisecond,
		ActivityRetryAttempts: 3,
		ActivityRetryBackoff:  time.Second,
		AllowedActivityTypes:  []string{"Ride", "VirtualRide"},
		SyncGracePeriod:       15 * time.Minute,
		SummaryWriteAttempts:  3,
		PacingTimezone:        "America/New_York",
		PubSubTopic:           shared.TopicStravaWebhooks,
		Environment:           "development",
		CacheTTL:              5 * time.Minute,
		LogLevel:              "info",
	}
}

// LoadConfig applies, in order, defaults, the YAML file named by
// DESIRELINES_CONFIG_PATH and environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("DESIRELINES_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ProjectID = getEnv("GOOGLE_CLOUD_PROJECT", cfg.ProjectID)
	cfg.DataBucket = getEnv("DATA_BUCKET", cfg.DataBucket)
	cfg.DataSource = getEnv("DATA_SOURCE", cfg.DataSource)
	cfg.LocalFixturesPath = getEnv("LOCAL_FIXTURES_PATH", cfg.LocalFixturesPath)

	cfg.Warehouse.Backend = getEnv("WAREHOUSE_BACKEND", cfg.Warehouse.Backend)
	cfg.Warehouse.BigQueryDataset = getEnv("BIGQUERY_DATASET", cfg.Warehouse.BigQueryDataset)
	cfg.Warehouse.PostgresURL = getEnv("POSTGRES_URL", cfg.Warehouse.PostgresURL)
	cfg.Warehouse.SQLitePath = getEnv("SQLITE_PATH", cfg.Warehouse.SQLitePath)

	cfg.Strava.ClientID = getEnv("STRAVA_CLIENT_ID", cfg.Strava.ClientID)
	cfg.Strava.ClientSecret = getEnv("STRAVA_CLIENT_SECRET", cfg.Strava.ClientSecret)
	cfg.Strava.RefreshToken = getEnv("STRAVA_REFRESH_TOKEN", cfg.Strava.RefreshToken)
	cfg.Strava.TokenURL = getEnv("STRAVA_TOKEN_URL", cfg.Strava.TokenURL)
	cfg.Strava.APIBaseURL = getEnv("STRAVA_API_BASE_URL", cfg.Strava.APIBaseURL)

	cfg.RequestTimeout = getDurationEnv("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.TokenRetryAttempts = getIntEnv("TOKEN_RETRY_ATTEMPTS", cfg.TokenRetryAttempts)
	cfg.TokenRetryBackoff = getDurationEnv("TOKEN_RETRY_BACKOFF", cfg.TokenRetryBackoff)
	cfg.ActivityRetryAttempts = getIntEnv("ACTIVITY_RETRY_ATTEMPTS", cfg.ActivityRetryAttempts)
	cfg.ActivityRetryBackoff = getDurationEnv("ACTIVITY_RETRY_BACKOFF", cfg.ActivityRetryBackoff)

	if v, ok := os.LookupEnv("ALLOWED_ACTIVITY_TYPES"); ok && v != "" {
		cfg.AllowedActivityTypes = splitAndTrim(v)
	}
	cfg.SyncGracePeriod = getDurationEnv("SYNC_GRACE_PERIOD", cfg.SyncGracePeriod)
	cfg.SummaryWriteAttempts = getIntEnv("SUMMARY_WRITE_ATTEMPTS", cfg.SummaryWriteAttempts)
	cfg.PacingTimezone = getEnv("PACING_TIMEZONE", cfg.PacingTimezone)

	cfg.PubSubTopic = getEnv("PUBSUB_TOPIC", cfg.PubSubTopic)
	cfg.EnablePublish = getBoolEnv("ENABLE_PUBLISH", cfg.EnablePublish)
	cfg.EnableExecutionLog = getBoolEnv("ENABLE_EXECUTION_LOG", cfg.EnableExecutionLog)

	cfg.SentryDSN = getEnv("SENTRY_DSN", cfg.SentryDSN)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	cfg.CacheTTL = getDurationEnv("CACHE_TTL", cfg.CacheTTL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate rejects settings no service can run with.
func (c *Config) Validate() error {
	switch c.DataSource {
	case DataSourceCloudStorage, DataSourceLocalFixtures:
	default:
		return fmt.Errorf("invalid DATA_SOURCE %q (expected %s or %s)", c.DataSource, DataSourceCloudStorage, DataSourceLocalFixtures)
	}
	switch c.Warehouse.Backend {
	case WarehouseBigQuery, WarehousePostgres, WarehouseSQLite:
	default:
		return fmt.Errorf("invalid WAREHOUSE_BACKEND %q", c.Warehouse.Backend)
	}
	if c.SummaryWriteAttempts < 1 {
		return fmt.Errorf("SUMMARY_WRITE_ATTEMPTS must be at least 1, got %d", c.SummaryWriteAttempts)
	}
	if _, err := time.LoadLocation(c.PacingTimezone); err != nil {
		return fmt.Errorf("invalid PACING_TIMEZONE %q: %w", c.PacingTimezone, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
