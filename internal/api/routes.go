package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/sessions/{id}/media", mediaHandler(cfg))
		r.Head("/sessions/{id}/media", mediaHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Post("/sessions", createSessionHandler(cfg))
		r.Get("/sessions", listSessionsHandler(cfg))
		r.Get("/sessions/{id}", getSessionHandler(cfg))
		r.Delete("/sessions/{id}", deleteSessionHandler(cfg))
		r.Get("/sessions/{id}/segments", listSegmentsHandler(cfg))
		r.Put("/sessions/{id}/segments", replaceSegmentsHandler(cfg))
		r.Get("/sessions/{id}/clusters", listClustersHandler(cfg))
		r.Put("/sessions/{id}/clusters/{clusterId}/selection", selectionHandler(cfg))
		r.Get("/sessions/{id}/filter", getFilterHandler(cfg))
		r.Put("/sessions/{id}/filter", setFilterHandler(cfg))
		r.Get("/sessions/{id}/plan", planHandler(cfg))
		r.Get("/sessions/{id}/map", mapHandler(cfg))
		r.Post("/sessions/{id}/export", exportHandler(cfg))
		r.Post("/sessions/{id}/playback/tick", tickHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: uptime,
		})
	}
}
