// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/sync"
)

// EnqueueSync handles POST /api/v1/sync/jobs.
func (h *Handler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req EnqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	jobID, err := h.scheduler.EnqueueWithPriority(r.Context(), req.ConnectionID, req.window(start), req.FullBackfill, models.PriorityManual)
	if err != nil {
		h.respondEnqueueError(w, r, err)
		return
	}
	respondData(w, http.StatusAccepted, EnqueueResponse{JobID: jobID}, start)
}

// GetSyncJob handles GET /api/v1/sync/jobs/{id}.
func (h *Handler) GetSyncJob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Sync job not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to load sync job", err)
		return
	}
	respondData(w, http.StatusOK, job, start)
}

func (h *Handler) respondEnqueueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Connection not found", nil)
	case errors.Is(err, sync.ErrConnectionRevoked):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "Connection is revoked", nil)
	case errors.Is(err, models.ErrInvalidWindow):
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Window end must be after start", nil)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to enqueue sync", err)
	}
}
