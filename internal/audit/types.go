// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Connection lifecycle
	EventTypeConnectionCreated   EventType = "connection.created"
	EventTypeCredentialsUpdated  EventType = "connection.credentials_updated"
	EventTypeConnectionResumed   EventType = "connection.resumed"
	EventTypeConnectionRevoked   EventType = "connection.revoked"
	EventTypeConnectionExpired   EventType = "connection.expired"
	EventTypeTokenRefreshed      EventType = "connection.token_refreshed"
	EventTypeTokenRefreshFailure EventType = "connection.token_refresh_failed"

	// Webhook payloads
	EventTypePayloadReplayed EventType = "payload.replayed"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one entry of the connection audit trail.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor is "api" for operator requests and "system" for the sync engine.
	Actor string `json:"actor"`

	UserID       string `json:"user_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Provider     string `json:"provider,omitempty"`

	// SourceIP is set for events caused by an HTTP request.
	SourceIP string `json:"source_ip,omitempty"`

	Description   string          `json:"description"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Query retrieves events matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Delete removes events older than the cutoff.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter selects audit events. Empty fields match everything.
type QueryFilter struct {
	ConnectionID string      `json:"connection_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	Types        []EventType `json:"types,omitempty"`
	StartTime    *time.Time  `json:"start_time,omitempty"`
	EndTime      *time.Time  `json:"end_time,omitempty"`
	Limit        int         `json:"limit,omitempty"`
}

// DefaultQueryLimit caps queries that do not set a limit.
const DefaultQueryLimit = 100

func (f QueryFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

func (f QueryFilter) matches(e *Event) bool {
	if f.ConnectionID != "" && e.ConnectionID != f.ConnectionID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
