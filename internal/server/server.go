// Package server exposes the assistant over HTTP: one chat endpoint plus
// read-only views of the action catalog, conversation history, and audit
// log. Everything except /health requires an API key.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/homewarden/warden/internal/audit"
	"github.com/homewarden/warden/internal/catalog"
	"github.com/homewarden/warden/internal/history"
	wardenotel "github.com/homewarden/warden/internal/otel"
	"github.com/homewarden/warden/internal/pipeline"
)

const defaultTimeout = 90 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	pipeline  *pipeline.Pipeline
	catalog   *catalog.Catalog
	store     *history.Store
	audit     *audit.Logger
	apiKeys   []string
	rateLimit float64
	rateBurst int
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKeys sets the accepted API keys. Empty means auth is disabled,
// which is only sensible on a loopback bind.
func WithAPIKeys(keys []string) Option {
	return func(s *Server) { s.apiKeys = keys }
}

// WithRateLimit sets requests-per-second and burst for the chat endpoint.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.rateLimit = perSecond
		s.rateBurst = burst
	}
}

// NewServer builds a Server with the required dependencies and optional Option(s).
func NewServer(p *pipeline.Pipeline, cat *catalog.Catalog, store *history.Store, auditLog *audit.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		pipeline:  p,
		catalog:   cat,
		store:     store,
		audit:     auditLog,
		rateLimit: 5,
		rateBurst: 10,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(wardenotel.Middleware())

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.rateLimit, s.rateBurst))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/chat", s.handleChat)
		r.Get("/v1/actions", s.handleActions)
		r.Get("/v1/history", s.handleHistory)
		r.Post("/v1/history/clear", s.handleHistoryClear)
		r.Get("/v1/audit", s.handleAudit)
	})

	return r
}
