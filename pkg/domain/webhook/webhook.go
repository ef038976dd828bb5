// Package webhook decodes upstream webhook notifications, either raw or
// wrapped in a Pub/Sub push envelope.
package webhook

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/desirelines/pipeline/pkg/apperrors"
)

const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	// MaxUpdatesSize bounds the serialized updates map in bytes.
	MaxUpdatesSize = 2000

	schemaURL = "webhook-event.json"
)

//go:embed schema.json
var schemaJSON []byte

var eventSchema = mustCompileSchema()

// ErrUnsupportedObject is wrapped by Parse when object_type is not "activity".
var ErrUnsupportedObject = errors.New("unsupported object_type")

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("webhook: parse schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("webhook: add schema: %v", err))
	}
	return c.MustCompile(schemaURL)
}

// AspectType is the kind of change a webhook reports.
type AspectType int

const (
	AspectCreate AspectType = iota + 1
	AspectUpdate
	AspectDelete
)

func (a AspectType) String() string {
	switch a {
	case AspectCreate:
		return "create"
	case AspectUpdate:
		return "update"
	case AspectDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseAspectType parses the wire name of an aspect.
func ParseAspectType(s string) (AspectType, error) {
	switch strings.ToLower(s) {
	case "create":
		return AspectCreate, nil
	case "update":
		return AspectUpdate, nil
	case "delete":
		return AspectDelete, nil
	}
	return 0, fmt.Errorf("unknown aspect_type %q", s)
}

func (a AspectType) MarshalJSON() ([]byte, error) {
	if a < AspectCreate || a > AspectDelete {
		return nil, fmt.Errorf("invalid aspect type %d", int(a))
	}
	return json.Marshal(a.String())
}

func (a *AspectType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAspectType(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Event is one webhook notification.
type Event struct {
	AspectType     AspectType     `json:"aspect_type"`
	EventTime      int64          `json:"event_time"`
	ObjectID       int64          `json:"object_id"`
	ObjectType     string         `json:"object_type"`
	OwnerID        int64          `json:"owner_id"`
	SubscriptionID int64          `json:"subscription_id"`
	Updates        map[string]any `json:"updates"`
}

// ActivityID is the object id of an activity event.
func (e *Event) ActivityID() int64 { return e.ObjectID }

// Time is event_time as a UTC timestamp.
func (e *Event) Time() time.Time { return time.Unix(e.EventTime, 0).UTC() }

// Validate parses and validates a raw webhook payload without restricting object_type.
func Validate(payload []byte) (*Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, &apperrors.DecodeError{Reason: "payload is not valid JSON", Err: err}
	}
	if err := eventSchema.Validate(inst); err != nil {
		return nil, &apperrors.ValidationError{Field: "payload", Reason: schemaReason(err), Err: err}
	}

	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, &apperrors.ValidationError{Field: "payload", Reason: err.Error(), Err: err}
	}
	if evt.Updates == nil {
		evt.Updates = map[string]any{}
	}

	size, err := updatesSize(evt.Updates)
	if err != nil {
		return nil, &apperrors.ValidationError{Field: "updates", Reason: err.Error(), Err: err}
	}
	if size > MaxUpdatesSize {
		return nil, &apperrors.ValidationError{
			Field:  "updates",
			Reason: fmt.Sprintf("too large: %d bytes (max %d)", size, MaxUpdatesSize),
		}
	}
	return &evt, nil
}

// Parse validates a raw payload and requires an activity event.
func Parse(payload []byte) (*Event, error) {
	evt, err := Validate(payload)
	if err != nil {
		return nil, err
	}
	if evt.ObjectType != ObjectActivity {
		return evt, &apperrors.ValidationError{
			Field:  "object_type",
			Reason: fmt.Sprintf("%q, only %q is supported", evt.ObjectType, ObjectActivity),
			Err:    ErrUnsupportedObject,
		}
	}
	return evt, nil
}

// updatesSize is the serialized length of updates without HTML escaping,
// so "<" counts as one byte rather than six.
func updatesSize(updates map[string]any) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(updates); err != nil {
		return 0, err
	}
	return len(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func schemaReason(err error) string {
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		// The first line names the schema; the detail follows.
		lines := strings.Split(verr.Error(), "\n")
		if len(lines) > 1 {
			return strings.TrimSpace(strings.Join(lines[1:], "; "))
		}
	}
	return err.Error()
}
