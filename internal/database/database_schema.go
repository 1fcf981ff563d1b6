// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
database_schema.go - Database Schema Management

Tables:
  - connections: one row per (user, provider) authorization, tokens sealed
  - sync_jobs: the job queue and its retry bookkeeping
  - raw_payloads: append-only log of every provider body received
  - normalized_metrics: canonical readings, unique per (user, provider, type, ts)

All timestamps are stored as TIMESTAMP in UTC.

Index Strategy:
Indexes cover the lookup paths only (connection by external user, jobs by
connection, metrics by user and type over time). Job status is deliberately
not indexed: DuckDB rewrites indexed columns as delete+insert, and status is
updated on every claim.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core database tables
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at TIMESTAMP,
			status TEXT NOT NULL,
			last_synced_at TIMESTAMP,
			consecutive_errors INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, provider)
		)`,

		`CREATE TABLE IF NOT EXISTS sync_jobs (
			id TEXT PRIMARY KEY,
			connection_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			full_backfill BOOLEAN NOT NULL DEFAULT false,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			scheduled_at TIMESTAMP NOT NULL,
			next_retry_at TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			processed_records INTEGER NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			error_category TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			claimed_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS raw_payloads (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			connection_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			signature_valid BOOLEAN NOT NULL,
			body TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS normalized_metrics (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			value DOUBLE NOT NULL,
			unit TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			quality_score DOUBLE NOT NULL,
			is_anomaly BOOLEAN NOT NULL DEFAULT false,
			anomaly_reason TEXT NOT NULL DEFAULT '',
			raw_payload_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, provider, metric_type, ts)
		)`,
	}
}

// createIndexes creates the lookup indexes
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_connections_external ON connections(provider, external_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_jobs_connection ON sync_jobs(connection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_user_type_ts ON normalized_metrics(user_id, metric_type, ts)`,
	}

	for _, idx := range indexes {
		if _, err := db.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", idx, err)
		}
	}
	return nil
}
