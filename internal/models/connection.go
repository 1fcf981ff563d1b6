// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package models

import "time"

// ConnectionStatus is the lifecycle state of a provider connection.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionRevoked ConnectionStatus = "revoked"
	ConnectionError   ConnectionStatus = "error"
)

// Valid reports whether s is a known status.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionActive, ConnectionExpired, ConnectionRevoked, ConnectionError:
		return true
	}
	return false
}

// Connection is a user's authorized link to one provider. There is at most
// one per (user, provider). Connections are never deleted; revocation is a
// status.
type Connection struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Provider          string           `json:"provider"`
	ExternalUserID    string           `json:"external_user_id"`
	AccessToken       string           `json:"-"`
	RefreshToken      string           `json:"-"`
	TokenExpiresAt    *time.Time       `json:"token_expires_at,omitempty"`
	Status            ConnectionStatus `json:"status"`
	LastSyncedAt      *time.Time       `json:"last_synced_at,omitempty"`
	ConsecutiveErrors int              `json:"consecutive_errors"`
	LastError         string           `json:"last_error,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TokenExpired reports whether the access token has an expiry that is at or
// before now.
func (c *Connection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && !now.Before(*c.TokenExpiresAt)
}

// Syncable reports whether the scheduler may pull for this connection.
func (c *Connection) Syncable() bool {
	return c.Status == ConnectionActive
}
