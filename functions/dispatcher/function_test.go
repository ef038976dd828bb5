package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/testing/mocks"
)

type published struct {
	topic string
	data  string
	attrs map[string]string
}

func newHandler(t *testing.T, publishErr error) (http.Handler, *[]published) {
	t.Helper()
	var sent []published
	pub := &mocks.MockPublisher{
		PublishFunc: func(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error) {
			if publishErr != nil {
				return "", publishErr
			}
			sent = append(sent, published{topic: topic, data: string(data), attrs: attrs})
			return "msg-1", nil
		},
	}
	cfg := bootstrap.DefaultConfig()
	svc := &bootstrap.Service{
		Name:   serviceName,
		Config: &cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Pub:    pub,
	}
	return New(svc), &sent
}

const createPayload = `{"aspect_type":"create","event_time":1700000000,"object_id":42,"object_type":"activity","owner_id":7,"subscription_id":1,"updates":{}}`

func TestDispatch_PublishesActivityWebhook(t *testing.T) {
	h, sent := newHandler(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(createPayload)))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "true", body["success"])
	require.NotEmpty(t, body["correlation_id"])

	require.Len(t, *sent, 1)
	msg := (*sent)[0]
	assert.Equal(t, shared.TopicStravaWebhooks, msg.topic)
	assert.JSONEq(t, createPayload, msg.data)
	assert.Equal(t, body["correlation_id"], msg.attrs[shared.AttrCorrelationID])
	assert.Equal(t, "create", msg.attrs[shared.AttrAspectType])
}

func TestDispatch_Responses(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		publishErr error
		wantStatus int
		wantSent   int
	}{
		{
			name:       "athlete object is ignored",
			method:     http.MethodPost,
			body:       `{"aspect_type":"update","event_time":1700000000,"object_id":7,"object_type":"athlete","owner_id":7,"subscription_id":1,"updates":{"authorized":"false"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			method:     http.MethodPost,
			body:       `{"aspect_type":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing required field",
			method:     http.MethodPost,
			body:       `{"aspect_type":"create","object_id":42,"object_type":"activity"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown aspect",
			method:     http.MethodPost,
			body:       strings.Replace(createPayload, `"create"`, `"rename"`, 1),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "publish failure",
			method:     http.MethodPost,
			body:       createPayload,
			publishErr: errors.New("topic unavailable"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "health check",
			method:     http.MethodHead,
			wantStatus: http.StatusOK,
		},
		{
			name:       "get is not routed",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sent := newHandler(t, tt.publishErr)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, *sent, tt.wantSent)
		})
	}
}
