package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the API router. webDir, when non-empty, is served at the
// root for the static front end.
func NewRouter(events *EventHandler, reservations *ReservationHandler, log *zap.Logger, webDir string) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)                    // permissive CORS for demo

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", events.CreateEvent)
		r.Get("/", events.ListEvents)
		r.Get("/{id}", events.GetEvent)
		r.Post("/{id}/slots", events.CreateSlot)
		r.Get("/{id}/slots", events.ListSlots)
		r.Get("/{id}/reservations", events.ListReservations)
		r.Post("/{id}/signup", reservations.Signup)
	})
	r.Get("/slots/{id}/occupancy", reservations.Occupancy)
	r.Post("/reservations/{id}/cancel", reservations.Cancel)
	r.Route("/members/{id}", func(r chi.Router) {
		r.Get("/reservations", events.ListMemberReservations)
		r.Get("/conflicts", reservations.Conflicts)
	})

	if webDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(webDir)))
	}
	return r
}
