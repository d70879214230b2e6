// Sessionwatch - Media Server Session Monitoring and Watch History
// Copyright 2026 The Sessionwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sessionwatch/sessionwatch

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sessionwatch/sessionwatch/internal/middleware"
)

// Routes builds the status API router.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/sessions", h.Sessions)
		r.Get("/history/recent", h.HistoryRecent)
		r.Post("/sessions/{key}/stop", h.StopSession)
	})

	return r
}
