package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/ai"
)

type aiHandler struct {
	ai     *ai.Service
	logger *zap.Logger
}

// Health handles GET /api/ai/health
func (h *aiHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.ai.Health(r.Context()))
}

// Suggest handles POST /api/ai/suggest
func (h *aiHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req ai.SuggestRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	resp, err := h.ai.Suggest(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Search handles POST /api/ai/search
func (h *aiHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req ai.SearchRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	resp, err := h.ai.Search(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Summary handles POST /api/ai/summary
func (h *aiHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var req ai.SummaryRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	resp, err := h.ai.Summarize(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
