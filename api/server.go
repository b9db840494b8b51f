/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the coordinator frontend

ROUTE GROUPS:
  /api/loom/*       Engine operations (generate, allocate, rebalance)
  /api/programs/*   Program templates
  /api/...          Reference data (participants, staff, vehicles, venues)
  /metrics          Prometheus scrape endpoint
  /healthz          Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Loom engine operations
		r.Route("/loom", func(r chi.Router) {
			r.Post("/generate", h.GenerateWindow)
			r.Get("/window", h.GetWindow)
			r.Put("/window", h.ResizeWindow)

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", h.ListInstances)
				r.Get("/{id}", h.GetInstance)
				r.Post("/{id}/allocate", h.AllocateParticipants)
				r.Post("/{id}/staff", h.AssignStaff)
				r.Post("/{id}/vehicles", h.AssignVehicles)
				r.Post("/{id}/reoptimize", h.Reoptimize)
			})

			r.Post("/allocations/{id}/cancel", h.CancelAllocation)
			r.Post("/shifts/{id}/sickness", h.ReportSickness)
		})

		// Program routes
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/{id}", h.GetProgram)
			r.Put("/{id}", h.UpdateProgram)
		})

		// Reference data routes
		r.Post("/enrollments", h.CreateEnrollment)

		r.Route("/participants", func(r chi.Router) {
			r.Post("/", h.CreateParticipant)
			r.Get("/{id}", h.GetParticipant)
		})

		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.CreateStaff)
		})

		r.Route("/vehicles", func(r chi.Router) {
			r.Get("/", h.ListVehicles)
			r.Post("/", h.CreateVehicle)
		})

		r.Route("/venues", func(r chi.Router) {
			r.Get("/", h.ListVenues)
			r.Post("/", h.CreateVenue)
		})

		r.Post("/unavailability", h.CreateUnavailability)
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
