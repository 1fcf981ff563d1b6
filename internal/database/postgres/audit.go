// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/gorm/clause"

	"github.com/tomtom215/vitalsync/internal/audit"
)

type auditRow struct {
	ID            string         `gorm:"type:varchar(64);primaryKey"`
	Timestamp     time.Time      `gorm:"type:timestamptz;not null;index"`
	Type          string         `gorm:"type:varchar(64);not null"`
	Severity      string         `gorm:"type:varchar(16);not null"`
	Outcome       string         `gorm:"type:varchar(16);not null"`
	Actor         string         `gorm:"type:varchar(32);not null"`
	UserID        string         `gorm:"type:varchar(128);index"`
	ConnectionID  string         `gorm:"type:varchar(64);index"`
	Provider      string         `gorm:"type:varchar(32)"`
	SourceIP      string         `gorm:"type:varchar(64)"`
	Description   string         `gorm:"type:text;not null"`
	Metadata      datatypes.JSON `gorm:"type:jsonb"`
	CorrelationID string         `gorm:"type:varchar(64)"`
}

func (auditRow) TableName() string { return "audit_events" }

// AuditStore keeps the connection audit trail in Postgres.
type AuditStore struct {
	store *Store
}

// AuditStore returns an audit.Store sharing s's pool.
func (s *Store) AuditStore() *AuditStore {
	return &AuditStore{store: s}
}

var _ audit.Store = (*AuditStore)(nil)

// Save inserts event, ignoring a duplicate id.
func (a *AuditStore) Save(ctx context.Context, event *audit.Event) error {
	db, cancel := a.store.conn(ctx)
	defer cancel()

	row := auditRow{
		ID:            event.ID,
		Timestamp:     event.Timestamp.UTC(),
		Type:          string(event.Type),
		Severity:      string(event.Severity),
		Outcome:       string(event.Outcome),
		Actor:         event.Actor,
		UserID:        event.UserID,
		ConnectionID:  event.ConnectionID,
		Provider:      event.Provider,
		SourceIP:      event.SourceIP,
		Description:   event.Description,
		Metadata:      datatypes.JSON(event.Metadata),
		CorrelationID: event.CorrelationID,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (a *AuditStore) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	db, cancel := a.store.conn(ctx)
	defer cancel()

	q := db.Model(&auditRow{})
	if filter.ConnectionID != "" {
		q = q.Where("connection_id = ?", filter.ConnectionID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN ?", types)
	}
	if filter.StartTime != nil {
		q = q.Where("timestamp >= ?", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		q = q.Where("timestamp <= ?", filter.EndTime.UTC())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}

	var rows []auditRow
	if err := q.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		e := audit.Event{
			ID:            r.ID,
			Timestamp:     r.Timestamp.UTC(),
			Type:          audit.EventType(r.Type),
			Severity:      audit.Severity(r.Severity),
			Outcome:       audit.Outcome(r.Outcome),
			Actor:         r.Actor,
			UserID:        r.UserID,
			ConnectionID:  r.ConnectionID,
			Provider:      r.Provider,
			SourceIP:      r.SourceIP,
			Description:   r.Description,
			CorrelationID: r.CorrelationID,
		}
		if len(r.Metadata) > 0 {
			e.Metadata = json.RawMessage(r.Metadata)
		}
		events = append(events, e)
	}
	return events, nil
}

// Delete removes events older than the cutoff.
func (a *AuditStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	db, cancel := a.store.conn(ctx)
	defer cancel()

	res := db.Where("timestamp < ?", olderThan.UTC()).Delete(&auditRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
