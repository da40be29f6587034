// Package handlers implements HTTP request handlers for the pipemedic API.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/metrics"
	"github.com/dwsmith1983/pipemedic/internal/predictor"
	"github.com/dwsmith1983/pipemedic/internal/store"
)

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	engine     *engine.Engine
	store      store.OutcomeStore
	predictor  *predictor.Predictor
	metrics    metrics.Sink
	minSamples int
	logger     *slog.Logger
}

// New creates a new Handlers instance. minHealingSamples is reported by the
// stats endpoint for the offline trainer.
func New(eng *engine.Engine, st store.OutcomeStore, pred *predictor.Predictor, sink metrics.Sink, minHealingSamples int) *Handlers {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Handlers{
		engine:     eng,
		store:      st,
		predictor:  pred,
		metrics:    sink,
		minSamples: minHealingSamples,
		logger:     slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// writeJSON encodes v with the given status.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logger.Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
