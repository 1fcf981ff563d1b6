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

	"github.com/tomtom215/vitalsync/internal/analytics"
)

// AnalyticsSummary handles GET /api/v1/analytics/{user}/summary.
func (h *Handler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	res, err := h.analytics.Summary(r.Context(), chi.URLParam(r, "user"), r.URL.Query().Get("metric"), days)
	h.respondAnalytics(w, r, res, err, start)
}

// AnalyticsTimeInRange handles GET /api/v1/analytics/{user}/tir.
func (h *Handler) AnalyticsTimeInRange(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	low, ok := floatParam(w, r, "low")
	if !ok {
		return
	}
	high, ok := floatParam(w, r, "high")
	if !ok {
		return
	}
	res, err := h.analytics.TimeInRange(r.Context(), chi.URLParam(r, "user"), r.URL.Query().Get("metric"), days, low, high)
	h.respondAnalytics(w, r, res, err, start)
}

// AnalyticsEvents handles GET /api/v1/analytics/{user}/events.
func (h *Handler) AnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	res, err := h.analytics.Events(r.Context(), chi.URLParam(r, "user"), r.URL.Query().Get("metric"), days)
	h.respondAnalytics(w, r, res, err, start)
}

// AnalyticsCorrelation handles GET /api/v1/analytics/{user}/correlation.
func (h *Handler) AnalyticsCorrelation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	days, ok := daysParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.analytics.Correlation(r.Context(), chi.URLParam(r, "user"), q.Get("a"), q.Get("b"), days)
	h.respondAnalytics(w, r, res, err, start)
}

func (h *Handler) respondAnalytics(w http.ResponseWriter, r *http.Request, res interface{}, err error, start time.Time) {
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidQuery) {
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeDatabaseError, "Failed to compute analytics", err)
		return
	}
	respondData(w, http.StatusOK, res, start)
}

// daysParam parses ?days=. Absent means the service default.
func daysParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "days must be a positive integer", nil)
		return 0, false
	}
	return days, true
}

// floatParam parses an optional float query parameter. Absent means zero.
func floatParam(w http.ResponseWriter, r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a number", nil)
		return 0, false
	}
	return v, true
}
