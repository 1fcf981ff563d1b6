// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/ingest"
	"github.com/tomtom215/vitalsync/internal/providers"
)

// Webhook handles POST /webhooks/{provider}. The body is read exactly once
// and passed on byte for byte so the signature covers what was received.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.webhook.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "Webhook body too large", nil)
			return
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read webhook body", err)
		return
	}

	out, err := h.ingest.Ingest(r.Context(), provider, body,
		r.Header.Get(h.webhook.SignatureHeader), r.Header.Get(h.webhook.DeliveryHeader))
	if err != nil {
		h.respondIngestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, webhookAck{OK: true, PayloadID: out.PayloadID, Duplicate: out.Duplicate})
}

// ReplayPayload handles POST /api/v1/payloads/{id}/replay.
func (h *Handler) ReplayPayload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	out, err := h.ingest.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Payload not found", nil)
		case errors.Is(err, ingest.ErrNotReplayable):
			respondError(w, r, http.StatusConflict, ErrCodeConflict, "Payload cannot be replayed", nil)
		default:
			h.respondIngestError(w, r, err)
		}
		return
	}
	h.audit.LogPayloadReplayed(r.Context(), out.PayloadID, out.UserID, out.Stored, audit.SourceIP(r))
	respondData(w, http.StatusOK, out, start)
}

// respondIngestError maps pipeline errors to status codes.
func (h *Handler) respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, providers.ErrUnsupported):
		respondError(w, r, http.StatusNotFound, ErrCodeUnsupportedProvider, "Provider does not accept webhooks", nil)
	case errors.Is(err, ingest.ErrInvalidSignature):
		respondError(w, r, http.StatusUnauthorized, ErrCodeInvalidSignature, "Invalid signature", nil)
	case errors.Is(err, ingest.ErrUnknownUser):
		respondError(w, r, http.StatusNotFound, ErrCodeUnknownUser, "No connection for provider user", nil)
	case errors.Is(err, ingest.ErrUndecodable):
		respondError(w, r, http.StatusBadRequest, ErrCodeUndecodable, "Webhook body could not be decoded", nil)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "Failed to process webhook", err)
	}
}
