// Package api serves the HTTP interface: thought CRUD, the sync endpoint,
// the AI proxy, the websocket change feed, health and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/ai"
	"github.com/enso-notes/enso/internal/metrics"
	"github.com/enso-notes/enso/internal/notes"
	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/sync"
)

// DefaultAllowedOrigins are the dev-server origins of the web editor.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173", "http://127.0.0.1:5173"}

// Deps are the collaborators the router dispatches to. Feed and Metrics are
// optional.
type Deps struct {
	DB      *store.DB
	Notes   *notes.Service
	Syncer  sync.Syncer
	AI      *ai.Service
	Feed    http.Handler
	Metrics *metrics.Collector
	Logger  *zap.Logger

	AllowedOrigins []string
}

// Router holds the handlers' shared state.
type Router struct {
	deps   Deps
	logger *zap.Logger
}

// NewRouter creates a router instance.
func NewRouter(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.AllowedOrigins == nil {
		d.AllowedOrigins = DefaultAllowedOrigins
	}
	return &Router{deps: d, logger: d.Logger}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger(rt.logger))
	if rt.deps.Metrics != nil {
		router.Use(rt.deps.Metrics.Middleware)
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rt.healthCheck)
	if rt.deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.deps.Metrics.Handler())
	}
	if rt.deps.Feed != nil {
		router.Method(http.MethodGet, "/ws", rt.deps.Feed)
	}

	router.Route("/thoughts", func(r chi.Router) {
		h := &thoughtHandler{notes: rt.deps.Notes, logger: rt.logger}
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Delete("/{id}/purge", h.Purge)
		r.Post("/{id}/links/{target}", h.Link)
		r.Delete("/{id}/links/{target}", h.Unlink)
	})

	router.Post("/sync/thoughts", (&syncHandler{syncer: rt.deps.Syncer, logger: rt.logger}).Sync)

	if rt.deps.AI != nil {
		router.Route("/api/ai", func(r chi.Router) {
			h := &aiHandler{ai: rt.deps.AI, logger: rt.logger}
			r.Get("/health", h.Health)
			r.Post("/suggest", h.Suggest)
			r.Post("/search", h.Search)
			r.Post("/summary", h.Summary)
		})
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error:     true,
			Type:      "NOT_FOUND",
			Message:   "route not found",
			RequestID: chimiddleware.GetReqID(r.Context()),
		})
	})

	return router
}

type healthResponse struct {
	Status   string `json:"status"`
	Thoughts int    `json:"thoughts"`
}

func (rt *Router) healthCheck(w http.ResponseWriter, r *http.Request) {
	if rt.deps.DB == nil {
		respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	n, err := rt.deps.DB.CountThoughts(r.Context(), false)
	if err != nil {
		rt.logger.Warn("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Thoughts: n})
}
