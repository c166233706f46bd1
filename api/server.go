/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions
  for the ranking subsystem's operational surface: completion injection,
  the batch reconciliation entry point, and rank/ledger queries.

ROUTER: chi
  Lightweight, context-based, RESTful route patterns.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for operational dashboards

ROUTE GROUPS:
  /api/completions         Completion event injection (async)
  /api/reconciliation/*    Batch reconciliation
  /api/users/*             Per-user rank and ledger reads
  /api/ranks/*             Rank table and distribution reads

SCOPE NOTE:
  Quiz content, authentication, and user CRUD are owned elsewhere; this
  surface exposes only the ledger/rank subsystem's own operations.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/rankd: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Completion ingestion (the external delivery layer posts here)
		r.Post("/completions", h.SubmitCompletion)

		// Batch reconciliation
		r.Route("/reconciliation", func(r chi.Router) {
			r.Post("/run", h.RunReconciliation)
			r.Get("/runs", h.ListReconciliationRuns)
		})

		// User rank and ledger reads
		r.Route("/users", func(r chi.Router) {
			r.Get("/{id}/rank", h.GetUserRank)
			r.Get("/{id}/ledger", h.GetUserLedger)
		})

		// Rank table reads
		r.Route("/ranks", func(r chi.Router) {
			r.Get("/", h.ListRanks)
			r.Get("/distribution", h.GetRankDistribution)
		})
	})

	return r
}
