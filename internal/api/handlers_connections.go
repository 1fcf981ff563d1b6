// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/models"
)

// CreateConnection handles POST /api/v1/connections. The first sync of a
// new connection is a full backfill at initial priority.
func (h *Handler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CreateConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.providers.Lookup(req.Provider); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeUnsupportedProvider, "Unknown provider: "+req.Provider, nil)
		return
	}

	conn := &models.Connection{
		UserID:         req.UserID,
		Provider:       req.Provider,
		ExternalUserID: req.ExternalUserID,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: utc(req.ExpiresAt),
		Status:         models.ConnectionActive,
	}
	if err := h.store.CreateConnection(r.Context(), conn); err != nil {
		if errors.Is(err, database.ErrConflict) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, "Connection already exists for user and provider", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to create connection", err)
		return
	}
	h.audit.LogConnectionCreated(r.Context(), conn, audit.SourceIP(r))

	resp := CreateConnectionResponse{Connection: conn}
	jobID, err := h.scheduler.EnqueueWithPriority(r.Context(), conn.ID, nil, true, models.PriorityInitial)
	if err != nil {
		// The recurring schedule picks the connection up later.
		logging.Ctx(r.Context()).Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to enqueue initial backfill")
	} else {
		resp.BackfillJobID = jobID
	}
	respondData(w, http.StatusCreated, resp, start)
}

// GetConnection handles GET /api/v1/connections/{id}.
func (h *Handler) GetConnection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	conn, ok := h.loadConnection(w, r)
	if !ok {
		return
	}
	respondData(w, http.StatusOK, ConnectionResponse{Connection: conn, Breaker: h.breakers.State(conn.Provider)}, start)
}

// ListUserConnections handles GET /api/v1/users/{user}/connections.
func (h *Handler) ListUserConnections(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	conns, err := h.store.ListConnections(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to list connections", err)
		return
	}
	if conns == nil {
		conns = []models.Connection{}
	}
	respondData(w, http.StatusOK, conns, start)
}

// UpdateCredentials handles PUT /api/v1/connections/{id}/credentials. It is
// the reauthorization hand-off: tokens are replaced, the connection becomes
// active again and jobs parked awaiting credentials resume.
func (h *Handler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	conn, ok := h.loadConnection(w, r)
	if !ok {
		return
	}
	if conn.Status == models.ConnectionRevoked {
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "Connection is revoked", nil)
		return
	}

	if err := h.store.UpdateConnectionCredentials(r.Context(), conn.ID, req.AccessToken, req.RefreshToken, utc(req.ExpiresAt)); err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to update credentials", err)
		return
	}
	resumed, err := h.scheduler.ResumeConnection(r.Context(), conn.ID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Credentials saved but parked jobs were not resumed", err)
		return
	}
	h.audit.LogCredentialsUpdated(r.Context(), conn, resumed, audit.SourceIP(r))
	respondData(w, http.StatusOK, CredentialsResponse{Resumed: resumed}, start)
}

// RevokeConnection handles DELETE /api/v1/connections/{id}. Connections are
// never deleted; the status becomes revoked.
func (h *Handler) RevokeConnection(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.loadConnection(w, r)
	if !ok {
		return
	}
	if err := h.store.RevokeConnection(r.Context(), conn.ID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Connection not found", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to revoke connection", err)
		return
	}
	h.audit.LogConnectionRevoked(r.Context(), conn, audit.SourceIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// ConnectionAudit handles GET /api/v1/connections/{id}/audit. limit is
// 1..500 and defaults to 100.
func (h *Handler) ConnectionAudit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := audit.DefaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}
	conn, ok := h.loadConnection(w, r)
	if !ok {
		return
	}
	events, err := h.audit.Query(r.Context(), audit.QueryFilter{ConnectionID: conn.ID, Limit: limit})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to load audit trail", err)
		return
	}
	respondData(w, http.StatusOK, events, start)
}

func (h *Handler) loadConnection(w http.ResponseWriter, r *http.Request) (*models.Connection, bool) {
	conn, err := h.store.GetConnection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Connection not found", nil)
			return nil, false
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to load connection", err)
		return nil, false
	}
	return conn, true
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
