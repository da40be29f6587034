package handlers

import (
	"errors"
	"net/http"

	"github.com/dwsmith1983/pipemedic/internal/predictor"
)

// Predict forecasts whether a run described by its metadata will fail.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var meta predictor.RunMetadata
	if err := decode(r, &meta); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	pred, err := h.predictor.ScoreRun(meta)
	if errors.Is(err, predictor.ErrScoringUnavailable) {
		h.writeError(w, http.StatusServiceUnavailable, "run-failure model not loaded", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "prediction failed", err)
		return
	}
	h.metrics.PredictionConfidence(pred.Confidence)
	h.writeJSON(w, http.StatusOK, pred)
}
