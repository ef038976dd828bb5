package apigateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	"github.com/desirelines/pipeline/pkg/testing/mocks"
)

const summaryDoc = `{"2023-01-01":{"distance_miles":10,"activity_ids":[1]}}`

func testGateway(t *testing.T, blobs *mocks.MockVersionedBlobStore) *gateway {
	t.Helper()
	cfg := bootstrap.DefaultConfig()
	cfg.DataBucket = "data"
	cfg.AllowedOrigins = []string{"https://desirelines.example"}
	svc := &bootstrap.Service{
		Name:   serviceName,
		Config: &cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Blobs:  blobs,
	}
	g, err := newGateway(svc)
	require.NoError(t, err)
	return g
}

func serve(g *gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.routes().ServeHTTP(rec, req)
	return rec
}

func TestActivities_ServesBlob(t *testing.T) {
	var reads []string
	blobs := &mocks.MockVersionedBlobStore{
		ReadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			assert.Equal(t, "data", bucket)
			reads = append(reads, object)
			return []byte(summaryDoc), nil
		},
	}
	g := testGateway(t, blobs)

	rec := serve(g, httptest.NewRequest(http.MethodGet, "/activities/2023/summary", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, summaryDoc, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []string{"activities/2023/summary.json"}, reads)
}

func TestActivities_CachesUntilExpiry(t *testing.T) {
	calls := 0
	blobs := &mocks.MockVersionedBlobStore{
		ReadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			calls++
			return []byte(`{}`), nil
		},
	}
	g := testGateway(t, blobs)
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	g.cache.setClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, serve(g, httptest.NewRequest(http.MethodGet, "/activities/2023/pacings", nil)).Code)
	}
	assert.Equal(t, 1, calls)

	now = now.Add(5 * time.Minute)
	require.Equal(t, http.StatusOK, serve(g, httptest.NewRequest(http.MethodGet, "/activities/2023/pacings", nil)).Code)
	assert.Equal(t, 2, calls)
}

func TestActivities_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		readErr    error
		wantStatus int
		wantError  string
	}{
		{"missing blob", "/activities/2019/distances", shared.ErrObjectNotFound, http.StatusNotFound, "Data not found for 2019/distances"},
		{"storage failure", "/activities/2019/distances", errors.New("backend down"), http.StatusInternalServerError, "Internal server error"},
		{"bad year", "/activities/twenty/summary", nil, http.StatusBadRequest, "Invalid year: twenty"},
		{"year out of range", "/activities/1800/summary", nil, http.StatusBadRequest, "Invalid year: 1800"},
		{"bad kind", "/activities/2023/segments", nil, http.StatusBadRequest, "Invalid data type: segments"},
		{"unknown route", "/athletes/1", nil, http.StatusNotFound, "Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := &mocks.MockVersionedBlobStore{
				ReadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
					return nil, tt.readErr
				},
			}
			rec := serve(testGateway(t, blobs), httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}

func TestHealth(t *testing.T) {
	rec := serve(testGateway(t, &mocks.MockVersionedBlobStore{}), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	rec := serve(testGateway(t, &mocks.MockVersionedBlobStore{}), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCORS(t *testing.T) {
	blobs := &mocks.MockVersionedBlobStore{
		ReadFunc: func(ctx context.Context, bucket, object string) ([]byte, error) {
			return []byte(`{}`), nil
		},
	}

	t.Run("allowed origin is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/activities/2023/summary", nil)
		req.Header.Set("Origin", "https://desirelines.example")
		rec := serve(testGateway(t, blobs), req)

		assert.Equal(t, "https://desirelines.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/activities/2023/summary", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := serve(testGateway(t, blobs), req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/activities/2023/summary", nil)
		req.Header.Set("Origin", "https://desirelines.example")
		rec := serve(testGateway(t, blobs), req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "3600", rec.Header().Get("Access-Control-Max-Age"))
		assert.Equal(t, "https://desirelines.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
