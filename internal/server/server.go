// Package server implements the HTTP transport layer for the LLM gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/routellm/gateway/internal/runengine"
	"github.com/routellm/gateway/internal/storage"
	"github.com/routellm/gateway/internal/syncchat"
	"github.com/routellm/gateway/internal/telemetry"
	"github.com/routellm/gateway/internal/timeseries"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Chat           *syncchat.Service    // drives POST /v1/llm/chat
	Runs           *runengine.Producer  // drives POST /v1/agent/runs
	RunStore       storage.RunStore     // drives GET/cancel on a run
	Keys           storage.KeyStore     // drives /v1/admin/keys*
	Series         *timeseries.Series   // drives /v1/stats/keys/{id}/timeseries
	AdminToken     string               // "" disables bearer auth (tests)
	Metrics        *telemetry.Metrics   // nil = no Prometheus metrics
	MetricsHandler http.Handler         // nil = no /metrics endpoint
	Tracer         trace.Tracer         // nil = no distributed tracing
	ReadyCheck     ReadyChecker         // nil = always ready
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth).
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)

		r.Post("/v1/llm/chat", s.handleChat)

		r.Post("/v1/agent/runs", s.handleCreateRun)
		r.Get("/v1/agent/runs/{id}", s.handleGetRun)
		r.Post("/v1/agent/runs/{id}/cancel", s.handleCancelRun)

		r.Get("/v1/admin/keys", s.handleListKeys)
		r.Post("/v1/admin/keys", s.handleCreateKey)
		r.Get("/v1/admin/keys/{id}", s.handleGetKey)
		r.Patch("/v1/admin/keys/{id}", s.handlePatchKey)
		r.Delete("/v1/admin/keys/{id}", s.handleDeleteKey)

		r.Get("/v1/stats/keys/{id}/timeseries", s.handleKeyTimeseries)
	})

	return r
}

type server struct {
	deps Deps
}
