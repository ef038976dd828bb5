package webhook

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/desirelines/pipeline/pkg/apperrors"
)

// Message is the Pub/Sub message inside a push envelope.
type Message struct {
	Data        *string           `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime string            `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Envelope is the Pub/Sub push body carried by the CloudEvent.
type Envelope struct {
	Message      *Message `json:"message"`
	Subscription string   `json:"subscription,omitempty"`
}

// Delivery is a decoded envelope plus its transport metadata.
type Delivery struct {
	Event       *Event
	MessageID   string
	PublishTime time.Time
	Attributes  map[string]string
}

// Attribute returns a message attribute or "".
func (d *Delivery) Attribute(key string) string {
	if d == nil || d.Attributes == nil {
		return ""
	}
	return d.Attributes[key]
}

// DecodeEnvelope turns a raw push envelope into a validated activity event.
// Every failure is permanent: redelivery carries the same bytes.
func DecodeEnvelope(raw []byte) (*Delivery, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &apperrors.DecodeError{Reason: "envelope is not valid JSON", Err: err}
	}
	if env.Message == nil {
		return nil, &apperrors.DecodeError{Reason: "envelope has no message"}
	}
	if env.Message.Data == nil {
		return nil, &apperrors.DecodeError{Reason: "message has no data"}
	}

	payload, err := base64.StdEncoding.DecodeString(*env.Message.Data)
	if err != nil {
		return nil, &apperrors.DecodeError{Reason: "data is not valid base64", Err: err}
	}

	evt, err := Parse(payload)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		Event:      evt,
		MessageID:  env.Message.MessageID,
		Attributes: env.Message.Attributes,
	}
	if env.Message.PublishTime != "" {
		if ts, err := time.Parse(time.RFC3339Nano, env.Message.PublishTime); err == nil {
			d.PublishTime = ts
		}
	}
	return d, nil
}

// EncodeEnvelope wraps a webhook payload the way a Pub/Sub push does.
func EncodeEnvelope(payload []byte, messageID string, attrs map[string]string) ([]byte, error) {
	data := base64.StdEncoding.EncodeToString(payload)
	return json.Marshal(Envelope{
		Message: &Message{
			Data:        &data,
			MessageID:   messageID,
			PublishTime: time.Now().UTC().Format(time.RFC3339Nano),
			Attributes:  attrs,
		},
	})
}
