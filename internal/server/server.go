// Package server exposes a running compositor over HTTP for debugging: its
// scheduler state, debug commands, the persisted action trace and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/internal/sim"
	"github.com/me/ccsched/internal/store"
	"github.com/me/ccsched/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// Status is a consistent view of a running compositor, taken on its impl
// thread.
type Status struct {
	SessionID  string              `json:"session_id,omitempty"`
	Scheduler  model.StateSnapshot `json:"scheduler"`
	FrameRate  framerate.Stats     `json:"frame_rate"`
	Compositor sim.Stats           `json:"compositor"`
}

// Controls is what the server needs from the running compositor. Both methods
// are called from HTTP goroutines and must hand the work to the impl thread.
type Controls interface {
	Status(ctx context.Context) (*Status, error)
	Command(ctx context.Context, name string) error
}

// Server is the debug HTTP API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	controls  Controls
	store     store.Store  // optional; trace endpoints answer 503 without it
	metrics   http.Handler // optional; served at /metrics
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore enables the trace endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a new Server with all routes registered.
func New(controls Controls, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logging.OrDiscard(logger).With("component", "server"),
		startTime: time.Now(),
		controls:  controls,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("debug server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("debug server stopped")
	return ctx.Err()
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// API routes (JSON)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Post("/{command}", s.handleCommand)
		})

		r.Route("/trace", func(r chi.Router) {
			r.Use(s.requireStore)
			r.Get("/actions", s.handleListActions)
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Get("/{id}", s.handleGetSession)
			})
		})
	})
}
