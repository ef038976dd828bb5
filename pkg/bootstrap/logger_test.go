package bootstrap

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_CloudLoggingKeysAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "aggregator", "info").With("component", "strava")

	logger.Info("Fetched activity", "activity_id", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[strava] Fetched activity", entry["message"])
	assert.Equal(t, "INFO", entry["severity"])
	assert.Equal(t, "aggregator", entry["service"])
	assert.Equal(t, "strava", entry["component"])
	assert.NotContains(t, entry, "msg")
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "svc", "warn")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
