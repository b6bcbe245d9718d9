package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

type syncHandler struct {
	syncer sync.Syncer
	logger *zap.Logger
}

// Sync handles POST /sync/thoughts. Changes that cannot be merged are
// listed in the response's rejected field; the request itself only fails on
// a malformed body or a storage error.
func (h *syncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req sync.Request
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if req.Changes == nil {
		req.Changes = []thought.Snapshot{}
	}

	resp, err := h.syncer.Sync(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
