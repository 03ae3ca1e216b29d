/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*       Register, login, logout
  /api/turfs/*      Public turf catalog and availability
  /api/me, /api/bookings   Authenticated user surface
  /api/admin/*      Admin operations and reports

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
		})

		// Public turf catalog
		r.Route("/turfs", func(r chi.Router) {
			r.Get("/", h.ListTurfs)
			r.Get("/{id}", h.GetTurf)
			r.Get("/{id}/availability", h.Availability)
		})

		// Authenticated user surface
		r.Group(func(r chi.Router) {
			r.Use(h.RequireUser)

			r.Get("/me", h.Me)
			r.Get("/me/points", h.Points)

			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", h.CreateBooking)
				r.Get("/", h.ListMyBookings)
				r.Delete("/{id}", h.CancelBooking)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireUser)
			r.Use(h.RequireAdmin)

			r.Post("/turfs", h.CreateTurf)
			r.Delete("/turfs/{id}", h.DeleteTurf)
			r.Get("/bookings", h.ListAllBookings)
			r.Get("/reports/bookings.csv", h.BookingsReportCSV)
		})
	})

	return r
}
