// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"time"

	"github.com/tomtom215/vitalsync/internal/breaker"
	"github.com/tomtom215/vitalsync/internal/models"
)

// EnqueueRequest asks for a manual sync. The window is either Start and
// End together, or WindowDays ending now; without either the scheduler
// picks it.
type EnqueueRequest struct {
	ConnectionID string     `json:"connection_id" validate:"required,uuid"`
	Start        *time.Time `json:"start,omitempty" validate:"required_with=End,excluded_with=WindowDays"`
	End          *time.Time `json:"end,omitempty" validate:"required_with=Start"`
	WindowDays   int        `json:"window_days,omitempty" validate:"omitempty,min=1,max=365"`
	FullBackfill bool       `json:"full_backfill"`
}

// window returns the requested window, or nil.
func (r *EnqueueRequest) window(now time.Time) *models.Window {
	if r.WindowDays > 0 {
		end := now.UTC()
		return &models.Window{Start: end.AddDate(0, 0, -r.WindowDays), End: end}
	}
	if r.Start == nil || r.End == nil {
		return nil
	}
	return &models.Window{Start: r.Start.UTC(), End: r.End.UTC()}
}

// CreateConnectionRequest registers a provider authorization obtained
// elsewhere.
type CreateConnectionRequest struct {
	UserID         string     `json:"user_id" validate:"required,max=128"`
	Provider       string     `json:"provider" validate:"required,slug"`
	ExternalUserID string     `json:"external_user_id" validate:"required,max=256"`
	AccessToken    string     `json:"access_token" validate:"required"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// CredentialsRequest carries tokens from a completed reauthorization.
type CredentialsRequest struct {
	AccessToken  string     `json:"access_token" validate:"required"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// EnqueueResponse is returned for accepted sync jobs.
type EnqueueResponse struct {
	JobID string `json:"job_id"`
}

// ConnectionResponse is a connection with its provider's breaker state.
type ConnectionResponse struct {
	Connection *models.Connection `json:"connection"`
	Breaker    breaker.Snapshot   `json:"breaker"`
}

// CreateConnectionResponse is returned when a connection is registered.
type CreateConnectionResponse struct {
	Connection    *models.Connection `json:"connection"`
	BackfillJobID string             `json:"backfill_job_id,omitempty"`
}

// CredentialsResponse reports how many parked jobs were resumed.
type CredentialsResponse struct {
	Resumed int `json:"resumed"`
}

// webhookAck is the body returned to providers.
type webhookAck struct {
	OK        bool   `json:"ok"`
	PayloadID string `json:"payload_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
