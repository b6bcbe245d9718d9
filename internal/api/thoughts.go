package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/errs"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/thought"
)

const maxListLimit = 1000

type thoughtHandler struct {
	notes  *notes.Service
	logger *zap.Logger
}

// CreateThoughtRequest is the body of POST /thoughts/.
type CreateThoughtRequest struct {
	ID        string     `json:"id,omitempty" validate:"omitempty,max=128"`
	Title     string     `json:"title,omitempty" validate:"max=500"`
	Content   string     `json:"content" validate:"required"`
	Tags      []string   `json:"tags,omitempty" validate:"omitempty,max=100,dive,max=100"`
	Links     []string   `json:"links,omitempty" validate:"omitempty,max=1000"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// UpdateThoughtRequest is the body of PATCH /thoughts/{id}.
type UpdateThoughtRequest struct {
	Title     *string    `json:"title,omitempty" validate:"omitempty,max=500"`
	Content   *string    `json:"content,omitempty"`
	Tags      *[]string  `json:"tags,omitempty" validate:"omitempty,max=100,dive,max=100"`
	Links     *[]string  `json:"links,omitempty" validate:"omitempty,max=1000"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// List handles GET /thoughts/?search=&include_deleted=&limit=
func (h *thoughtHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := notes.ListOptions{Search: q.Get("search")}

	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, h.logger, errs.Validation("include_deleted must be a boolean"))
			return
		}
		opts.IncludeDeleted = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			respondError(w, r, h.logger, errs.Validation("limit must be between 1 and %d", maxListLimit))
			return
		}
		opts.Limit = n
	}

	list, err := h.notes.List(r.Context(), opts)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// Create handles POST /thoughts/
func (h *thoughtHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateThoughtRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	created, err := h.notes.Create(r.Context(), thought.Snapshot{
		ID:        req.ID,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		Links:     req.Links,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/thoughts/"+created.ID)
	respondJSON(w, http.StatusCreated, created)
}

// Get handles GET /thoughts/{id}
func (h *thoughtHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.notes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Update handles PATCH /thoughts/{id}
func (h *thoughtHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateThoughtRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	t, err := h.notes.Update(r.Context(), chi.URLParam(r, "id"), notes.Patch{
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		Links:     req.Links,
		UpdatedAt: req.UpdatedAt,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Delete handles DELETE /thoughts/{id}. Deleting an unknown or already
// deleted thought succeeds.
func (h *thoughtHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Purge handles DELETE /thoughts/{id}/purge
func (h *thoughtHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.Purge(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Link handles POST /thoughts/{id}/links/{target}
func (h *thoughtHandler) Link(w http.ResponseWriter, r *http.Request) {
	t, err := h.notes.Link(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "target"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Unlink handles DELETE /thoughts/{id}/links/{target}
func (h *thoughtHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	t, err := h.notes.Unlink(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "target"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}
