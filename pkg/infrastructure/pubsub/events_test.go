package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desirelines/pipeline/pkg/domain/webhook"
)

func TestNewMessagePublishedEvent_DecodesAsDelivery(t *testing.T) {
	payload := []byte(`{"aspect_type":"create","event_time":1672531200,"object_id":42,"object_type":"activity","owner_id":1,"subscription_id":1,"updates":{}}`)

	e, err := NewMessagePublishedEvent("proj", "strava-webhooks", "msg-1", payload, map[string]string{"correlation_id": "c-1"})
	require.NoError(t, err)
	require.NoError(t, e.Validate())

	assert.Equal(t, MessagePublishedType, e.Type())
	assert.Equal(t, "//pubsub.googleapis.com/projects/proj/topics/strava-webhooks", e.Source())
	assert.Equal(t, "msg-1", e.ID())

	d, err := webhook.DecodeEnvelope(e.Data())
	require.NoError(t, err)
	assert.Equal(t, int64(42), d.Event.ActivityID())
	assert.Equal(t, "msg-1", d.MessageID)
	assert.Equal(t, "c-1", d.Attribute("correlation_id"))
}

func TestNewCloudEvent(t *testing.T) {
	e, err := NewCloudEvent("test-source", "test.type", map[string]int{"year": 2023})
	require.NoError(t, err)

	var body map[string]int
	require.NoError(t, json.Unmarshal(e.Data(), &body))
	assert.Equal(t, 2023, body["year"])
	assert.Equal(t, "1.0", e.SpecVersion())
}

func TestLogPublisher(t *testing.T) {
	id, err := (&LogPublisher{}).Publish(context.Background(), "topic", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Contains(t, id, "local-")
}
