// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/vitalsync/internal/models"
)

const metricColumns = `id, user_id, provider, metric_type, value, unit, ts, quality_score, is_anomaly,
	anomaly_reason, raw_payload_id, created_at, updated_at`

// upsertMetricSQL inserts a metric or, for an existing key, refreshes only
// the quality fields. The stored value is immutable.
const upsertMetricSQL = `INSERT INTO normalized_metrics (` + metricColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, provider, metric_type, ts) DO UPDATE SET
		quality_score = EXCLUDED.quality_score,
		is_anomaly = EXCLUDED.is_anomaly,
		anomaly_reason = EXCLUDED.anomaly_reason,
		updated_at = EXCLUDED.updated_at`

// UpsertMetrics writes ms in one transaction and returns how many rows were
// written. Repeated keys within ms collapse to the last occurrence.
func (db *DB) UpsertMetrics(ctx context.Context, ms []models.NormalizedMetric) (int, error) {
	ms = models.DedupeMetrics(ms)
	if len(ms) == 0 {
		return 0, nil
	}

	ctx, cancel := ensureContext(ctx)
	defer cancel()

	err := withConflictRetry(ctx, func() error {
		return db.upsertMetricsTx(ctx, ms)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %d metrics: %w", len(ms), err)
	}
	return len(ms), nil
}

func (db *DB) upsertMetricsTx(ctx context.Context, ms []models.NormalizedMetric) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertMetricSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer closeWithLog(stmt, "upsert statement")

	now := time.Now().UTC()
	for i := range ms {
		m := &ms[i]
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		updated := m.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		if _, err = stmt.ExecContext(ctx,
			m.ID, m.UserID, m.Provider, m.MetricType, m.Value, m.Unit, m.Timestamp.UTC(),
			m.QualityScore, m.IsAnomaly, m.AnomalyReason, m.RawPayloadID, created.UTC(), updated.UTC(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryMetrics returns a user's metrics of one type with from <= ts <= to,
// ordered by timestamp.
func (db *DB) QueryMetrics(ctx context.Context, userID, metricType string, from, to time.Time) ([]models.NormalizedMetric, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+metricColumns+` FROM normalized_metrics
		WHERE user_id = ? AND metric_type = ? AND ts >= ? AND ts <= ?
		ORDER BY ts, provider`,
		userID, metricType, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer closeWithLog(rows, "metric rows")

	var out []models.NormalizedMetric
	for rows.Next() {
		var m models.NormalizedMetric
		if err := rows.Scan(&m.ID, &m.UserID, &m.Provider, &m.MetricType, &m.Value, &m.Unit, &m.Timestamp,
			&m.QualityScore, &m.IsAnomaly, &m.AnomalyReason, &m.RawPayloadID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		m.UpdatedAt = m.UpdatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMetrics returns how many metrics a user has.
func (db *DB) CountMetrics(ctx context.Context, userID string) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM normalized_metrics WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count metrics: %w", err)
	}
	return n, nil
}
