package pubsub

import (
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/desirelines/pipeline/pkg/domain/webhook"
)

const (
	// MessagePublishedType is the CloudEvent type Pub/Sub triggers deliver.
	MessagePublishedType = "google.cloud.pubsub.topic.v1.messagePublished"
	topicSourceFormat    = "//pubsub.googleapis.com/projects/%s/topics/%s"
)

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// NewMessagePublishedEvent wraps a webhook payload in the envelope a Pub/Sub
// trigger hands to a function, so a running function can be driven directly.
func NewMessagePublishedEvent(projectID, topic, messageID string, payload []byte, attrs map[string]string) (cloudevents.Event, error) {
	envelope, err := webhook.EncodeEnvelope(payload, messageID, attrs)
	if err != nil {
		return cloudevents.Event{}, err
	}
	e, err := NewCloudEvent(fmt.Sprintf(topicSourceFormat, projectID, topic), MessagePublishedType, envelope)
	if err != nil {
		return e, err
	}
	e.SetID(messageID)
	return e, nil
}
