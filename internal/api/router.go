// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/middleware"
)

// Router builds the HTTP route tree.
type Router struct {
	handler *Handler
	server  config.ServerConfig
}

// NewRouter creates a Router. A zero API rate limit falls back to 300
// requests per minute.
func NewRouter(handler *Handler, server config.ServerConfig) *Router {
	if server.RateLimitRequests <= 0 {
		server.RateLimitRequests = 300
	}
	if server.RateLimitWindow <= 0 {
		server.RateLimitWindow = time.Minute
	}
	return &Router{handler: handler, server: server}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Providers call this; no CORS and a separate budget.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(h.webhook.RateLimitReqs, h.webhook.RateLimitWindow))
		r.Post("/webhooks/{provider}", h.Webhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if len(router.server.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: router.server.CORSOrigins,
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", middleware.RequestIDHeader, middleware.CorrelationIDHeader},
				ExposedHeaders: []string{middleware.RequestIDHeader},
				MaxAge:         86400,
			}))
		}
		r.Use(httprate.LimitByIP(router.server.RateLimitRequests, router.server.RateLimitWindow))

		r.Get("/breakers", h.Breakers)

		r.Route("/sync/jobs", func(r chi.Router) {
			r.Post("/", h.EnqueueSync)
			r.Get("/{id}", h.GetSyncJob)
		})

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", h.CreateConnection)
			r.Get("/{id}", h.GetConnection)
			r.Put("/{id}/credentials", h.UpdateCredentials)
			r.Get("/{id}/audit", h.ConnectionAudit)
			r.Delete("/{id}", h.RevokeConnection)
		})
		r.Get("/users/{user}/connections", h.ListUserConnections)
		r.Get("/users/{user}/stream", h.Stream)

		r.Post("/payloads/{id}/replay", h.ReplayPayload)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", h.ListBackups)
			r.Post("/", h.CreateBackup)
			r.Get("/{id}", h.GetBackup)
			r.Post("/{id}/verify", h.VerifyBackup)
			r.Delete("/{id}", h.DeleteBackup)
		})

		r.Route("/analytics/{user}", func(r chi.Router) {
			r.Get("/summary", h.AnalyticsSummary)
			r.Get("/tir", h.AnalyticsTimeInRange)
			r.Get("/events", h.AnalyticsEvents)
			r.Get("/correlation", h.AnalyticsCorrelation)
		})
	})

	return r
}
