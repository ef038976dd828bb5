package sentry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
)

func TestScrub_RemovesCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{Headers: map[string]string{
		"Authorization": "Bearer secret",
		"Cookie":        "session=1",
		"User-Agent":    "Google-Cloud-Functions",
	}}}

	got := scrub(event)

	assert.NotContains(t, got.Request.Headers, "Authorization")
	assert.NotContains(t, got.Request.Headers, "Cookie")
	assert.Equal(t, "Google-Cloud-Functions", got.Request.Headers["User-Agent"])
}

func TestInit_EmptyDSNDisablesTracking(t *testing.T) {
	assert.NoError(t, Init(Config{}, nil))
}
