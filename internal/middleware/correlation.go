// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package middleware

import (
	"context"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/logging"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// CorrelationIDHeader is accepted from clients when X-Request-ID is absent.
const CorrelationIDHeader = "X-Correlation-ID"

// maxRequestIDLen bounds ids accepted from clients.
const maxRequestIDLen = 128

// Correlation assigns every request an id. An id sent by an upstream proxy
// is kept; otherwise a UUID is generated. The id is echoed in the response
// header, exposed through chi's middleware.GetReqID and attached to the
// logging context as the correlation id.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = r.Header.Get(CorrelationIDHeader)
		}
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.New().String()
		}
		id = logging.SanitizeLogValue(id)

		w.Header().Set(RequestIDHeader, id)
		ctx := logging.ContextWithCorrelationID(r.Context(), id)
		ctx = context.WithValue(ctx, chimiddleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id assigned by Correlation, or "".
func GetRequestID(r *http.Request) string {
	return chimiddleware.GetReqID(r.Context())
}
