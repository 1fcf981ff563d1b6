// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Stream handles GET /api/v1/users/{user}/stream, a websocket that receives
// a message each time metrics are stored for the user.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Event stream unavailable", nil)
		return
	}
	h.stream.ServeUser(w, r, chi.URLParam(r, "user"))
}
