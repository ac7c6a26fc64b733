/**
 * @description
 * This file sets up the HTTP router for the event-service. It defines the internal
 * API endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack, including the internal API key check.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser based admin tools.
 * - github.com/prometheus/client_golang: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventRoutes creates and returns a new router for the event service.
func EventRoutes(h *EventHandlers, internalKey string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id", "X-Internal-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))

		r.Post("/events", h.CreateEventHandler)
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Delete("/", h.DeleteEventHandler)
			r.Get("/summary", h.EventSummaryHandler)
			r.Get("/winners", h.ListWinnersHandler)
			r.Post("/entries", h.ApplyHandler)
			r.Post("/stock", h.ReplenishStockHandler)

			r.Post("/draws/first-come", h.DrawFirstComeHandler)
			r.Post("/draws/random", h.DrawRandomHandler)
			r.Post("/draws/close", h.CloseDrawHandler)
		})

		r.Post("/missions", h.CreateMissionHandler)
		r.Post("/missions/activity", h.MemberActivityHandler)
		r.Post("/missions/{missionID}/enrollments", h.EnrollMemberHandler)
	})

	return r
}
