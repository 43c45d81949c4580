// Package api is the HTTP face of an exert node. It serves remote
// exertions for the node's provider, accepts whole routine trees, and
// streams lifecycle events to watchers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/exert/internal/auth"
	"github.com/mattjoyce/exert/internal/events"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/persist"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/transport"
)

// Exerter runs routine trees submitted to the node.
type Exerter interface {
	Exert(ctx context.Context, r routine.Routine, args ...routine.Arg) (routine.Routine, error)
}

// LedgerReader lists recorded exertions.
type LedgerReader interface {
	Recent(ctx context.Context, name string, limit int) ([]persist.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token; it carries every scope.
	APIKey string
	// Tokens are additional bearer tokens limited to their scopes. With no
	// APIKey and no Tokens the protected routes are open.
	Tokens        []auth.TokenConfig
	MaxConcurrent int
	// MaxExertTimeout bounds one submitted routine tree.
	MaxExertTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	provider  *transport.Provider
	exerter   Exerter
	ledger    LedgerReader
	events    *events.Hub
	gen       naming.Generator
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	semaphore chan struct{}
}

// New creates a new API server instance. exerter and ledger may be nil,
// which disables POST /routines and GET /ledger.
func New(config Config, provider *transport.Provider, exerter Exerter, ledger LedgerReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxExertTimeout <= 0 {
		config.MaxExertTimeout = 5 * time.Minute
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		provider:  provider,
		exerter:   exerter,
		ledger:    ledger,
		events:    hub,
		gen:       naming.NewSequence(),
		logger:    logger,
		startedAt: time.Now(),
		semaphore: make(chan struct{}, config.MaxConcurrent),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.MaxExertTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeExert)).Post("/exert/{type}/{selector}", s.handleExert)
		r.With(s.requireScopes(auth.ScopeProvision)).Post("/provision", s.handleProvision)
		r.With(s.requireScopes(auth.ScopeExert)).Post("/routines", s.handleRoutine)
		r.With(s.requireScopes(auth.ScopeLedgerRO)).Get("/ledger", s.handleLedger)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		r.Get("/openapi.json", s.handleOpenAPI)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
