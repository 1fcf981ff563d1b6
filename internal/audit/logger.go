// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package audit

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
)

const (
	actorAPI    = "api"
	actorSystem = "system"
)

// Logger is the audit trail writer. Log never blocks: events go through a
// buffered channel to a background writer, and are dropped with a warning
// when the buffer is full.
type Logger struct {
	config    config.AuditConfig
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewLogger creates a logger and starts its writer. A disabled config or a
// nil store yields a logger that records nothing.
func NewLogger(store Store, cfg config.AuditConfig) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if store == nil {
		cfg.Enabled = false
	}

	l := &Logger{
		config:    cfg,
		store:     store,
		eventChan: make(chan *Event, cfg.BufferSize),
		stopChan:  make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if cfg.Enabled {
		l.wg.Add(1)
		go l.asyncWriter()
	}
	return l
}

// Disabled returns a logger that discards every event.
func Disabled() *Logger {
	return NewLogger(nil, config.AuditConfig{})
}

// Enabled reports whether events are recorded.
func (l *Logger) Enabled() bool {
	return l.config.Enabled
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to save audit event")
	}
}

// Log queues an event. ID and timestamp are filled in when empty.
func (l *Logger) Log(event *Event) {
	if !l.config.Enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	select {
	case l.eventChan <- event:
		metrics.AuditEventsRecorded.WithLabelValues(string(event.Type)).Inc()
	default:
		metrics.AuditEventsDropped.Inc()
		logging.Warn().Str("event_type", string(event.Type)).Msg("Audit event buffer full, dropping event")
	}
}

// Close stops the writer after draining queued events. It is safe to call
// more than once.
func (l *Logger) Close() error {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

// Query returns events matching filter, newest first.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return []Event{}, nil
	}
	return l.store.Query(ctx, filter)
}

// Cleanup deletes events older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.store == nil {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	return l.store.Delete(ctx, cutoff)
}

// Run enforces retention on the configured interval until ctx is canceled.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := l.Cleanup(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Audit cleanup error")
			} else if count > 0 {
				logging.Info().Int64("count", count).Msg("Cleaned up old audit events")
			}
		}
	}
}

// LogConnectionCreated records a new provider connection.
func (l *Logger) LogConnectionCreated(ctx context.Context, conn *models.Connection, sourceIP string) {
	l.Log(connectionEvent(ctx, conn, EventTypeConnectionCreated, SeverityInfo, OutcomeSuccess, actorAPI, sourceIP,
		"Connection created", nil))
}

// LogCredentialsUpdated records new tokens supplied by the user. resumed is
// the number of parked jobs put back in the queue.
func (l *Logger) LogCredentialsUpdated(ctx context.Context, conn *models.Connection, resumed int, sourceIP string) {
	l.Log(connectionEvent(ctx, conn, EventTypeCredentialsUpdated, SeverityInfo, OutcomeSuccess, actorAPI, sourceIP,
		"Connection credentials updated", map[string]any{"resumed_jobs": resumed}))
}

// LogConnectionRevoked records a revoked connection.
func (l *Logger) LogConnectionRevoked(ctx context.Context, conn *models.Connection, sourceIP string) {
	l.Log(connectionEvent(ctx, conn, EventTypeConnectionRevoked, SeverityWarning, OutcomeSuccess, actorAPI, sourceIP,
		"Connection revoked", nil))
}

// LogConnectionExpired records the sync engine giving up on a connection's
// credentials until the user reconnects.
func (l *Logger) LogConnectionExpired(ctx context.Context, conn *models.Connection, code, reason string) {
	l.Log(connectionEvent(ctx, conn, EventTypeConnectionExpired, SeverityCritical, OutcomeFailure, actorSystem, "",
		"Connection needs to be reauthorized", map[string]any{"error_code": code, "reason": reason}))
}

// LogTokenRefreshed records a successful OAuth refresh.
func (l *Logger) LogTokenRefreshed(ctx context.Context, conn *models.Connection) {
	l.Log(connectionEvent(ctx, conn, EventTypeTokenRefreshed, SeverityInfo, OutcomeSuccess, actorSystem, "",
		"Access token refreshed", nil))
}

// LogTokenRefreshFailed records a failed OAuth refresh.
func (l *Logger) LogTokenRefreshFailed(ctx context.Context, conn *models.Connection, code string) {
	l.Log(connectionEvent(ctx, conn, EventTypeTokenRefreshFailure, SeverityWarning, OutcomeFailure, actorSystem, "",
		"Access token refresh failed", map[string]any{"error_code": code}))
}

// LogPayloadReplayed records an operator replaying a stored webhook body.
func (l *Logger) LogPayloadReplayed(ctx context.Context, payloadID, userID string, stored int, sourceIP string) {
	l.Log(&Event{
		Type:          EventTypePayloadReplayed,
		Severity:      SeverityInfo,
		Outcome:       OutcomeSuccess,
		Actor:         actorAPI,
		UserID:        userID,
		SourceIP:      sourceIP,
		Description:   "Webhook payload replayed",
		Metadata:      mustJSON(map[string]any{"payload_id": payloadID, "stored": stored}),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	})
}

func connectionEvent(ctx context.Context, conn *models.Connection, typ EventType, sev Severity, outcome Outcome,
	actor, sourceIP, description string, metadata map[string]any) *Event {
	e := &Event{
		Type:          typ,
		Severity:      sev,
		Outcome:       outcome,
		Actor:         actor,
		UserID:        conn.UserID,
		ConnectionID:  conn.ID,
		Provider:      conn.Provider,
		SourceIP:      sourceIP,
		Description:   description,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}
	if metadata != nil {
		e.Metadata = mustJSON(metadata)
	}
	return e
}

// mustJSON converts a value to JSON, returning an empty object on error.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// SourceIP returns the client address of r without its port.
func SourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
