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

	"github.com/tomtom215/vitalsync/internal/backup"
)

// requireBackups writes 503 when backups are not configured.
func (h *Handler) requireBackups(w http.ResponseWriter, r *http.Request) bool {
	if h.backups == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Backups are not enabled", nil)
		return false
	}
	return true
}

// ListBackups handles GET /api/v1/backups.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.requireBackups(w, r) {
		return
	}
	respondData(w, http.StatusOK, h.backups.List(), start)
}

// CreateBackup handles POST /api/v1/backups. It runs synchronously.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.requireBackups(w, r) {
		return
	}
	b, err := h.backups.Create(r.Context(), backup.TriggerManual)
	if errors.Is(err, backup.ErrInProgress) {
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "A backup is already running", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Backup failed", err)
		return
	}
	respondData(w, http.StatusCreated, b, start)
}

// GetBackup handles GET /api/v1/backups/{id}.
func (h *Handler) GetBackup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.requireBackups(w, r) {
		return
	}
	b, err := h.backups.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Backup not found", nil)
		return
	}
	respondData(w, http.StatusOK, b, start)
}

// VerifyBackup handles POST /api/v1/backups/{id}/verify.
func (h *Handler) VerifyBackup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.requireBackups(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.backups.Verify(id)
	switch {
	case errors.Is(err, backup.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Backup not found", nil)
	case err != nil:
		respondData(w, http.StatusOK, map[string]any{"id": id, "valid": false, "error": err.Error()}, start)
	default:
		respondData(w, http.StatusOK, map[string]any{"id": id, "valid": true}, start)
	}
}

// DeleteBackup handles DELETE /api/v1/backups/{id}.
func (h *Handler) DeleteBackup(w http.ResponseWriter, r *http.Request) {
	if !h.requireBackups(w, r) {
		return
	}
	err := h.backups.Delete(chi.URLParam(r, "id"))
	if errors.Is(err, backup.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Backup not found", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to delete backup", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
