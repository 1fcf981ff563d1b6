// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package postgres

import (
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"

	"github.com/tomtom215/vitalsync/internal/models"
)

type connectionRow struct {
	ID                string     `gorm:"type:varchar(64);primaryKey"`
	UserID            string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_connections_user_provider"`
	Provider          string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_connections_user_provider;index:idx_connections_external,priority:1"`
	ExternalUserID    string     `gorm:"type:varchar(128);not null;index:idx_connections_external,priority:2"`
	AccessToken       string     `gorm:"type:text"`
	RefreshToken      string     `gorm:"type:text"`
	TokenExpiresAt    *time.Time `gorm:"type:timestamptz"`
	Status            string     `gorm:"type:varchar(24);not null"`
	LastSyncedAt      *time.Time `gorm:"type:timestamptz"`
	ConsecutiveErrors int        `gorm:"not null"`
	LastError         string     `gorm:"type:text"`
	CreatedAt         time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt         time.Time  `gorm:"type:timestamptz;not null"`
}

func (connectionRow) TableName() string { return "connections" }

type jobRow struct {
	ID               string     `gorm:"type:varchar(64);primaryKey"`
	ConnectionID     string     `gorm:"type:varchar(64);not null;index"`
	UserID           string     `gorm:"type:varchar(128);not null"`
	Provider         string     `gorm:"type:varchar(32);not null"`
	WindowStart      time.Time  `gorm:"type:timestamptz;not null"`
	WindowEnd        time.Time  `gorm:"type:timestamptz;not null"`
	FullBackfill     bool       `gorm:"not null"`
	Priority         int        `gorm:"not null"`
	Status           string     `gorm:"type:varchar(24);not null;index:idx_sync_jobs_claimable,priority:1"`
	RetryCount       int        `gorm:"not null"`
	MaxRetries       int        `gorm:"not null"`
	ScheduledAt      time.Time  `gorm:"type:timestamptz;not null;index:idx_sync_jobs_claimable,priority:2"`
	NextRetryAt      *time.Time `gorm:"type:timestamptz"`
	StartedAt        *time.Time `gorm:"type:timestamptz"`
	CompletedAt      *time.Time `gorm:"type:timestamptz"`
	ProcessedRecords int        `gorm:"not null"`
	ErrorCode        string     `gorm:"type:varchar(48)"`
	ErrorCategory    string     `gorm:"type:varchar(24)"`
	ErrorMessage     string     `gorm:"type:text"`
	ClaimedBy        string     `gorm:"type:varchar(128)"`
	CreatedAt        time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt        time.Time  `gorm:"type:timestamptz;not null"`
}

func (jobRow) TableName() string { return "sync_jobs" }

// payloadRow keeps valid JSON bodies in a json column, which preserves the
// original text. Bodies that are not JSON go to BodyRaw.
type payloadRow struct {
	ID             string         `gorm:"type:varchar(128);primaryKey"`
	Provider       string         `gorm:"type:varchar(32);not null;index:idx_raw_payloads_replay,priority:2"`
	UserID         string         `gorm:"type:varchar(128);index:idx_raw_payloads_replay,priority:1"`
	ConnectionID   string         `gorm:"type:varchar(64)"`
	Source         string         `gorm:"type:varchar(16);not null"`
	EventType      string         `gorm:"type:varchar(64)"`
	SignatureValid bool           `gorm:"not null"`
	Body           datatypes.JSON `gorm:"type:json"`
	BodyRaw        []byte         `gorm:"type:bytea"`
	ReceivedAt     time.Time      `gorm:"type:timestamptz;not null;index:idx_raw_payloads_replay,priority:3"`
}

func (payloadRow) TableName() string { return "raw_payloads" }

type metricRow struct {
	ID            string    `gorm:"type:varchar(64);not null"`
	UserID        string    `gorm:"type:varchar(128);primaryKey;index:idx_metrics_user_type_ts,priority:1"`
	Provider      string    `gorm:"type:varchar(32);primaryKey"`
	MetricType    string    `gorm:"type:varchar(64);primaryKey;index:idx_metrics_user_type_ts,priority:2"`
	Timestamp     time.Time `gorm:"column:ts;type:timestamptz;primaryKey;index:idx_metrics_user_type_ts,priority:3"`
	Value         float64   `gorm:"not null"`
	Unit          string    `gorm:"type:varchar(24)"`
	QualityScore  float64   `gorm:"not null"`
	IsAnomaly     bool      `gorm:"not null"`
	AnomalyReason string    `gorm:"type:text"`
	RawPayloadID  string    `gorm:"type:varchar(128)"`
	CreatedAt     time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt     time.Time `gorm:"type:timestamptz;not null"`
}

func (metricRow) TableName() string { return "normalized_metrics" }

func toConnectionRow(c *models.Connection) connectionRow {
	return connectionRow{
		ID:                c.ID,
		UserID:            c.UserID,
		Provider:          c.Provider,
		ExternalUserID:    c.ExternalUserID,
		AccessToken:       c.AccessToken,
		RefreshToken:      c.RefreshToken,
		TokenExpiresAt:    utcPtr(c.TokenExpiresAt),
		Status:            string(c.Status),
		LastSyncedAt:      utcPtr(c.LastSyncedAt),
		ConsecutiveErrors: c.ConsecutiveErrors,
		LastError:         c.LastError,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func (r *connectionRow) model() models.Connection {
	return models.Connection{
		ID:                r.ID,
		UserID:            r.UserID,
		Provider:          r.Provider,
		ExternalUserID:    r.ExternalUserID,
		AccessToken:       r.AccessToken,
		RefreshToken:      r.RefreshToken,
		TokenExpiresAt:    utcPtr(r.TokenExpiresAt),
		Status:            models.ConnectionStatus(r.Status),
		LastSyncedAt:      utcPtr(r.LastSyncedAt),
		ConsecutiveErrors: r.ConsecutiveErrors,
		LastError:         r.LastError,
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func toJobRow(j *models.SyncJob) jobRow {
	return jobRow{
		ID:               j.ID,
		ConnectionID:     j.ConnectionID,
		UserID:           j.UserID,
		Provider:         j.Provider,
		WindowStart:      j.WindowStart.UTC(),
		WindowEnd:        j.WindowEnd.UTC(),
		FullBackfill:     j.FullBackfill,
		Priority:         j.Priority,
		Status:           string(j.Status),
		RetryCount:       j.RetryCount,
		MaxRetries:       j.MaxRetries,
		ScheduledAt:      j.ScheduledAt.UTC(),
		NextRetryAt:      utcPtr(j.NextRetryAt),
		StartedAt:        utcPtr(j.StartedAt),
		CompletedAt:      utcPtr(j.CompletedAt),
		ProcessedRecords: j.ProcessedRecords,
		ErrorCode:        j.ErrorCode,
		ErrorCategory:    j.ErrorCategory,
		ErrorMessage:     j.ErrorMessage,
		ClaimedBy:        j.ClaimedBy,
		CreatedAt:        j.CreatedAt.UTC(),
		UpdatedAt:        j.UpdatedAt.UTC(),
	}
}

func (r *jobRow) model() models.SyncJob {
	return models.SyncJob{
		ID:               r.ID,
		ConnectionID:     r.ConnectionID,
		UserID:           r.UserID,
		Provider:         r.Provider,
		WindowStart:      r.WindowStart.UTC(),
		WindowEnd:        r.WindowEnd.UTC(),
		FullBackfill:     r.FullBackfill,
		Priority:         r.Priority,
		Status:           models.JobStatus(r.Status),
		RetryCount:       r.RetryCount,
		MaxRetries:       r.MaxRetries,
		ScheduledAt:      r.ScheduledAt.UTC(),
		NextRetryAt:      utcPtr(r.NextRetryAt),
		StartedAt:        utcPtr(r.StartedAt),
		CompletedAt:      utcPtr(r.CompletedAt),
		ProcessedRecords: r.ProcessedRecords,
		ErrorCode:        r.ErrorCode,
		ErrorCategory:    r.ErrorCategory,
		ErrorMessage:     r.ErrorMessage,
		ClaimedBy:        r.ClaimedBy,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func toPayloadRow(p *models.RawPayload) payloadRow {
	row := payloadRow{
		ID:             p.ID,
		Provider:       p.Provider,
		UserID:         p.UserID,
		ConnectionID:   p.ConnectionID,
		Source:         string(p.Source),
		EventType:      p.EventType,
		SignatureValid: p.SignatureValid,
		ReceivedAt:     p.ReceivedAt.UTC(),
	}
	if json.Valid(p.Body) {
		row.Body = datatypes.JSON(p.Body)
	} else {
		row.BodyRaw = []byte(p.Body)
	}
	return row
}

func (r *payloadRow) model() models.RawPayload {
	body := []byte(r.Body)
	if r.BodyRaw != nil {
		body = r.BodyRaw
	}
	return models.RawPayload{
		ID:             r.ID,
		Provider:       r.Provider,
		UserID:         r.UserID,
		ConnectionID:   r.ConnectionID,
		Source:         models.PayloadSource(r.Source),
		EventType:      r.EventType,
		SignatureValid: r.SignatureValid,
		Body:           body,
		ReceivedAt:     r.ReceivedAt.UTC(),
	}
}

func toMetricRow(m *models.NormalizedMetric) metricRow {
	return metricRow{
		ID:            m.ID,
		UserID:        m.UserID,
		Provider:      m.Provider,
		MetricType:    m.MetricType,
		Timestamp:     m.Timestamp.UTC(),
		Value:         m.Value,
		Unit:          m.Unit,
		QualityScore:  m.QualityScore,
		IsAnomaly:     m.IsAnomaly,
		AnomalyReason: m.AnomalyReason,
		RawPayloadID:  m.RawPayloadID,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

func (r *metricRow) model() models.NormalizedMetric {
	return models.NormalizedMetric{
		ID:            r.ID,
		UserID:        r.UserID,
		Provider:      r.Provider,
		MetricType:    r.MetricType,
		Value:         r.Value,
		Unit:          r.Unit,
		Timestamp:     r.Timestamp.UTC(),
		QualityScore:  r.QualityScore,
		IsAnomaly:     r.IsAnomaly,
		AnomalyReason: r.AnomalyReason,
		RawPayloadID:  r.RawPayloadID,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
