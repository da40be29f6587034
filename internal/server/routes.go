package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/pipemedic/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.engine, s.store, s.predictor, s.metrics, s.opts.MinHealingSamples)
	h.SetLogger(s.logger)

	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Use(APIKeyMiddleware(s.opts.APIKey))
		if s.opts.MaxBody > 0 {
			r.Use(MaxBodyMiddleware(s.opts.MaxBody))
		}

		// Health
		r.Get("/health", h.Health)

		// Reporting
		r.Get("/stats", h.Stats)

		// Classification and scoring
		r.Post("/classify", h.Classify)
		r.Post("/analyze", h.Analyze)
		r.Post("/predict", h.Predict)

		// Runs
		r.Get("/runs/{runID}/history", h.RunHistory)
		r.Post("/runs/{runID}/heal", h.HealRun)
	})
}
