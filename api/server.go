/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP behind proxies
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard frontend
  5. RequireActiveUser: Deactivated-account gate (API routes only)

ROUTE GROUPS:
  /api/indicators/*  Record CRUD, visibility, expansion
  /api/bulk/*        Spreadsheet mass-update sessions
  /api/autofill      Reference-period backfill
  /api/health        Liveness probe (outside the user gate)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	// AllowedOrigins feeds the CORS middleware. Empty means allow all.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"X-Session-ID", "X-Row-Count", "X-Auto-Filled"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireActiveUser)

			r.Route("/indicators", func(r chi.Router) {
				r.Get("/", h.ListIndicators)
				r.Post("/", h.CreateIndicator)
				r.Get("/{id}", h.GetIndicator)
				r.Patch("/{id}", h.PatchIndicator)
				r.Post("/{id}/visibility", h.SetVisibility)
				r.Post("/{id}/document", h.SetDocumentFlag)
				r.Post("/{id}/expand", h.ExpandIndicator)
			})

			r.Route("/bulk", func(r chi.Router) {
				r.Post("/export", h.BulkExport)
				r.Post("/{session}/parse", h.BulkParse)
				r.Post("/{session}/apply", h.BulkApply)
				r.Post("/{session}/cancel", h.BulkCancel)
			})

			r.Post("/autofill", h.AutoFillReferencePeriods)
		})
	})

	return r
}
