// Package apigateway serves the precomputed yearly documents to the web
// frontend.
package apigateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	shared "github.com/desirelines/pipeline/pkg"
	"github.com/desirelines/pipeline/pkg/bootstrap"
	httputil "github.com/desirelines/pipeline/pkg/infrastructure/http"
	"github.com/desirelines/pipeline/pkg/summarystore"
)

const (
	EntryPoint  = "ServeAPI"
	serviceName = "apigateway"

	cacheControl = "public, max-age=300"
	cacheSize    = 128
	minYear      = 2000
	maxYear      = 2100
)

var kinds = []string{shared.KindSummary, shared.KindDistances, shared.KindPacings}

func init() {
	if !bootstrap.IsFunctionTarget(EntryPoint) {
		return
	}
	svc, err := bootstrap.NewService(context.Background(), serviceName, bootstrap.WithBlobStore())
	if err == nil {
		var h http.Handler
		if h, err = New(svc); err == nil {
			functions.HTTP(EntryPoint, h.ServeHTTP)
			return
		}
	}
	slog.Error("Failed to initialize service", "error", err)
	functions.HTTP(EntryPoint, func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusInternalServerError, "service unavailable")
	})
}

type gateway struct {
	blobs   shared.BlobStore
	bucket  string
	origins []string
	cache   *blobCache
	logger  *slog.Logger
}

// New returns the API router.
func New(svc *bootstrap.Service) (http.Handler, error) {
	g, err := newGateway(svc)
	if err != nil {
		return nil, err
	}
	return g.routes(), nil
}

func newGateway(svc *bootstrap.Service) (*gateway, error) {
	cache, err := newBlobCache(cacheSize, svc.Config.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("response cache: %w", err)
	}
	return &gateway{
		blobs:   svc.Blobs,
		bucket:  svc.Config.DataBucket,
		origins: svc.Config.AllowedOrigins,
		cache:   cache,
		logger:  svc.Logger,
	}, nil
}

func (g *gateway) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(g.cors)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/activities/{year}/{kind}", g.activities)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// cors echoes the request origin only when it is allow-listed. Without a
// match no CORS headers are sent and the browser blocks the response.
// Preflight requests are answered here for every path.
func (g *gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(g.origins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		} else if origin != "" {
			g.logger.Debug("CORS origin not allowed", "origin", origin)
		}
		if r.Method == http.MethodOptions {
			g.preflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *gateway) preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

func (g *gateway) activities(w http.ResponseWriter, r *http.Request) {
	yearParam, kind := chi.URLParam(r, "year"), chi.URLParam(r, "kind")
	year, err := strconv.Atoi(yearParam)
	if err != nil || year < minYear || year > maxYear {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid year: %s", yearParam))
		return
	}
	if !slices.Contains(kinds, kind) {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Invalid data type: %s", kind))
		return
	}

	path := summarystore.ObjectPath(year, kind)
	data, hit := g.cache.get(path)
	if !hit {
		start := time.Now()
		data, err = g.blobs.Read(r.Context(), g.bucket, path)
		if errors.Is(err, shared.ErrObjectNotFound) {
			httputil.WriteError(w, http.StatusNotFound, fmt.Sprintf("Data not found for %d/%s", year, kind))
			return
		}
		if err != nil {
			g.logger.Error("Failed to read blob", "path", path, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		g.cache.put(path, data)
		g.logger.Debug("Blob loaded", "path", path, "bytes", len(data), "elapsed_ms", time.Since(start).Milliseconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
