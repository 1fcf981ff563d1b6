// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/tomtom215/vitalsync/internal/models"
)

const upsertBatchSize = 500

// metricConflict targets the natural key. Only the quality assessment and
// updated_at change on a repeat; the stored value is immutable.
var metricConflict = clause.OnConflict{
	Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "metric_type"}, {Name: "ts"}},
	DoUpdates: clause.AssignmentColumns([]string{
		"quality_score",
		"is_anomaly",
		"anomaly_reason",
		"updated_at",
	}),
}

// UpsertMetrics writes ms in one transaction and returns how many rows were
// written. Repeated keys within ms collapse to the last occurrence.
func (s *Store) UpsertMetrics(ctx context.Context, ms []models.NormalizedMetric) (int, error) {
	ms = models.DedupeMetrics(ms)
	if len(ms) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]metricRow, 0, len(ms))
	for i := range ms {
		row := toMetricRow(&ms[i])
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		if row.UpdatedAt.IsZero() {
			row.UpdatedAt = now
		}
		rows = append(rows, row)
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	if err := db.Clauses(metricConflict).CreateInBatches(&rows, upsertBatchSize).Error; err != nil {
		return 0, fmt.Errorf("failed to upsert %d metrics: %w", len(rows), err)
	}
	return len(rows), nil
}

// QueryMetrics returns a user's metrics of one type with from <= ts <= to,
// ordered by timestamp.
func (s *Store) QueryMetrics(ctx context.Context, userID, metricType string, from, to time.Time) ([]models.NormalizedMetric, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var rows []metricRow
	err := db.Where("user_id = ? AND metric_type = ? AND ts >= ? AND ts <= ?", userID, metricType, from.UTC(), to.UTC()).
		Order("ts, provider").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}

	out := make([]models.NormalizedMetric, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].model())
	}
	return out, nil
}

// CountMetrics returns how many metrics a user has.
func (s *Store) CountMetrics(ctx context.Context, userID string) (int, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var n int64
	if err := db.Model(&metricRow{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count metrics: %w", err)
	}
	return int(n), nil
}
