package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/pipemedic/internal/engine"
	"github.com/dwsmith1983/pipemedic/internal/scm"
	"github.com/dwsmith1983/pipemedic/internal/store"
)

// RunHistory returns the stored run with its failure records and attempts.
func (h *Handlers) RunHistory(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	hist, err := h.store.GetRunHistory(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load run history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, hist)
}

// HealRun runs a manual override healing pass for a failed run.
func (h *Handlers) HealRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	res, err := h.engine.Heal(r.Context(), runID)
	switch {
	case errors.Is(err, scm.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "run not found", nil)
		return
	case errors.Is(err, engine.ErrNotFailed):
		h.writeError(w, http.StatusConflict, "run did not fail", nil)
		return
	case errors.Is(err, scm.ErrUnavailable):
		h.writeError(w, http.StatusBadGateway, "source control unavailable", err)
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "healing failed", err)
		return
	}
	h.logger.Info("manual heal completed", "runID", runID, "state", res.State)
	h.writeJSON(w, http.StatusOK, res)
}
