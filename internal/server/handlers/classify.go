package handlers

import (
	"net/http"
	"strings"

	"github.com/dwsmith1983/pipemedic/internal/classifier"
)

type classifyRequest struct {
	Log string `json:"log"`
}

type analyzeRequest struct {
	Logs []string `json:"logs"`
}

// Classify classifies one failure log.
func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Log) == "" {
		h.writeError(w, http.StatusBadRequest, "log is required", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, classifier.Classify(req.Log))
}

// Analyze reports the category distribution over a batch of logs.
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if len(req.Logs) == 0 {
		h.writeError(w, http.StatusBadRequest, "logs must not be empty", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, classifier.AnalyzeBatch(req.Logs))
}
