/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the operator console

ROUTE GROUPS:
  /api/health           Liveness
  /api/runs/*           Pipeline runs
  /api/payments/*       Payment history and disbursement progression
  /api/employees        Claimant registration
  /api/claims           Absence case registration
  /api/bank-accounts/*  EFT prenote lifecycle
  /api/max-weekly-benefits, /api/lookups/*  Reference data

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

		// Pipeline runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Post("/", h.TriggerRun)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/{id}", h.GetPayment)
			r.Post("/{id}/sent", h.MarkPaymentSent)
			r.Post("/{id}/complete", h.MarkPaymentComplete)
		})

		r.Post("/employees", h.CreateEmployee)
		r.Post("/claims", h.CreateClaim)

		// Prenote routes
		r.Route("/bank-accounts", func(r chi.Router) {
			r.Post("/{id}/prenote-sent", h.MarkPrenoteSent)
			r.Post("/{id}/prenote-rejected", h.MarkPrenoteRejected)
		})

		r.Get("/max-weekly-benefits", h.ListMaxWeeklyBenefits)
		r.Get("/lookups/{kind}", h.GetLookup)
	})

	return r
}
