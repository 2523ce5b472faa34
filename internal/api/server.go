package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpy-dev-ml/scopegate/internal/auth"
	"github.com/mpy-dev-ml/scopegate/internal/coordinator"
	"github.com/mpy-dev-ml/scopegate/internal/journal"
	"github.com/mpy-dev-ml/scopegate/internal/ledger"
	"github.com/mpy-dev-ml/scopegate/internal/metrics"
	"github.com/mpy-dev-ml/scopegate/internal/queue"
)

// Submitter runs a command across the privilege boundary. Satisfied by
// *coordinator.Coordinator.
type Submitter interface {
	Submit(ctx context.Context, spec coordinator.CommandSpec, requiredPaths []string) (coordinator.Result, error)
}

// QueueInspector exposes queue state for the observability endpoints.
type QueueInspector interface {
	Status() queue.Counts
}

// GrantInspector exposes the ledger's active grants.
type GrantInspector interface {
	Grants() []ledger.Grant
}

// JournalReader exposes the persisted command history.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey protects the mutating endpoints. When empty, submission over
	// HTTP is disabled entirely.
	APIKey string
}

// Server represents the observability HTTP server
type Server struct {
	config    Config
	queue     QueueInspector
	grants    GrantInspector
	journal   JournalReader
	submitter Submitter
	collector *metrics.Collector
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, q QueueInspector, grants GrantInspector, jr JournalReader, sub Submitter, collector *metrics.Collector, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		queue:     q,
		grants:    grants,
		journal:   jr,
		submitter: sub,
		collector: collector,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // submissions are synchronous

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

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/queue", s.handleQueue)
	r.Get("/v1/grants", s.handleGrants)
	r.Get("/v1/journal", s.handleJournal)
	r.With(s.authMiddleware).Post("/v1/commands", s.handleSubmit)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.collector.Registry(), promhttp.HandlerOpts{}))

	return r
}

// authMiddleware guards mutating endpoints with the configured API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			s.writeError(w, http.StatusForbidden, "command submission over HTTP is disabled")
			return
		}
		presented, err := auth.ExtractBearerToken(r)
		if err != nil || !auth.Verify(presented, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
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
