package handlers

import (
	"net/http"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
)

// Health returns the server health status. A failing store ping reports
// "degraded" rather than an error status so the process is not restarted
// for a database outage.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store ping failed", "error", err)
		status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"rulesVersion": classifier.RulesVersion,
		"threshold":    h.engine.Threshold(),
		"models": map[string]bool{
			"runFailure": h.predictor.Available(),
			"healing":    h.predictor.HealingModelLoaded(),
		},
	})
}
