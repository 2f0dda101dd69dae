package api

import (
	"net/http"

	"aggregator/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func NewRouter(h *Handlers, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.With(middleware.Idempotency(redisClient)).Post("/publish", h.Publish)
	r.Get("/events", h.ListEvents)
	r.Delete("/events", h.DeleteEvents)
	r.Get("/stats", h.Stats)
	r.Post("/metrics/reset", h.ResetMetrics)
	r.Get("/queue/stats", h.QueueStats)
	r.Get("/health", h.Health)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
