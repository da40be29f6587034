package handlers

import (
	"net/http"
	"strconv"

	"github.com/dwsmith1983/pipemedic/internal/store"
	"github.com/dwsmith1983/pipemedic/pkg/types"
)

type statsResponse struct {
	types.AggregateStatistics
	MinHealingSamples int  `json:"minHealingSamples"`
	EnoughSamples     bool `json:"enoughSamples"`
}

// Stats returns aggregate healing statistics for ?days=N (default 30).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	days := store.DefaultWindowDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 3650 {
			h.writeError(w, http.StatusBadRequest, "days must be a positive integer", nil)
			return
		}
		days = n
	}

	stats, err := h.store.GetAggregateStatistics(r.Context(), days)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load statistics", err)
		return
	}
	h.writeJSON(w, http.StatusOK, statsResponse{
		AggregateStatistics: stats,
		MinHealingSamples:   h.minSamples,
		EnoughSamples:       stats.Attempted >= h.minSamples,
	})
}
