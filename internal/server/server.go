// Package server exposes a running daemon's state over a small read-only
// JSON API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/miga/pkg/model"
)

// StatusSource publishes the daemon's current state.
type StatusSource interface {
	Snapshot() model.DaemonSnapshot
}

// History lists recorded job events.
type History interface {
	ListEvents(ctx context.Context, f model.EventFilter) ([]*model.JobEvent, int, error)
}

// Server is the daemon status API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
	status    StatusSource
	history   History // optional; nil when the daemon keeps no history
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithHistory enables the /history endpoint.
func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// New creates a Server with all routes registered.
func New(src StatusSource, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
		status:    src,
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
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status api starting", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status api stopped")
	return nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		replyError(w, r, http.StatusNotFound,
			&model.APIError{Code: model.ErrNotFound, Message: "no such endpoint: " + r.URL.Path})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
	})
}
