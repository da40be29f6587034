// Package server implements the pipemedic operational HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/store"
)

// Options configures optional server behaviour.
type Options struct {
	APIKey            string
	MaxBody           int64
	MinHealingSamples int
	Metrics           metrics.Sink
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server is the pipemedic HTTP API server.
type Server struct {
	engine    *engine.Engine
	store     store.OutcomeStore
	predictor *predictor.Predictor
	metrics   metrics.Sink
	opts      Options
	logger    *slog.Logger
	router    chi.Router
	addr      string
	srv       *http.Server
}

// New creates a new HTTP server.
func New(addr string, eng *engine.Engine, st store.OutcomeStore, pred *predictor.Predictor, opts Options) *Server {
	s := &Server{
		engine:    eng,
		store:     st,
		predictor: pred,
		metrics:   opts.Metrics,
		opts:      opts,
		logger:    opts.Logger,
		addr:      addr,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns nil after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
