// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tracegate/internal/config"
	"github.com/tomtom215/tracegate/internal/middleware"
)

// Router assembles the HTTP surface from the handler and middleware set.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router for the given handler.
func NewRouter(handler *Handler, security config.SecurityConfig) *Router {
	return &Router{
		handler:       handler,
		chiMiddleware: NewChiMiddleware(security),
	}
}

// Setup configures all HTTP routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is handled

	// Health endpoints get a permissive limiter so monitoring probes never
	// hit the per-IP cap meant for data traffic.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(SecurityHeaders())
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.Health)
	})

	// Write path: admission checks and log ingestion.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(SecurityHeaders())
		r.Use(middleware.PrometheusMetrics)

		r.Post("/admission", router.handler.CheckAdmission)
		r.Post("/logs", router.handler.Ingest)
		r.Get("/quota", router.handler.QuotaStatus)
		r.Get("/config", router.handler.Config)

		// Read path: correlation, insights, search. Export negotiates its
		// own zstd encoding and stays outside the gzip middleware.
		r.Route("/traces", func(r chi.Router) {
			r.With(middleware.Compression).Get("/recent", router.handler.RecentTraces)
			r.With(middleware.Compression).Get("/{traceID}", router.handler.TraceBundle)
			r.With(middleware.Compression).Get("/{traceID}/insights", router.handler.TraceInsights)
			r.Get("/{traceID}/export", router.handler.ExportTrace)
			r.Delete("/{traceID}", router.handler.PurgeTrace)
		})

		r.With(middleware.Compression).Get("/logs/search", router.handler.SearchLogs)

		// Sync triggers.
		r.Post("/sync", router.handler.SyncAll)
		r.Post("/sync/trace/{traceID}", router.handler.SyncByTrace)
		r.Post("/sync/user/{userID}", router.handler.SyncByUser)
	})

	// Prometheus scrape endpoint, outside the instrumented tree.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
