// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package middleware provides the HTTP middleware shared by every route.

  - Correlation: reads or assigns an X-Request-ID and stores it as the
    logging correlation id, so handler logs and downstream sync or ingest
    logs share one id
  - PrometheusMetrics: request counts and latency per chi route pattern

Both are plain func(http.Handler) http.Handler values and compose with
chi's own middleware:

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
