package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(180 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/health", s.handleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/acquire", s.handleAcquire)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/statistics", s.handleTaskStatistics)
			r.Get("/{taskID}", s.handleGetTask)
			r.Post("/{taskID}/cancel", s.handleCancelTask)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleSearchProducts)
			r.Get("/{productID}", s.handleGetProduct)
			r.Get("/{productID}/observations", s.handleObservations)
			r.Get("/{productID}/compare", s.handleCompare)
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Post("/", s.handleUpsertWatch)
			r.Post("/batch", s.handleBatchUpsertWatch)
			r.Get("/", s.handleListWatch)
			r.Get("/categories", s.handleWatchCategories)
			r.Delete("/{entryID}", s.handleDeactivateWatch)
		})
	})

	return r
}
