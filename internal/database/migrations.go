// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/vitalsync/internal/logging"
)

// Migration is one schema change applied after the base schema. Versions
// only grow; a released migration is never edited.
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`

func migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "raw_payload_replay_index",
			SQL:     `CREATE INDEX IF NOT EXISTS idx_raw_payloads_replay ON raw_payloads(user_id, provider, received_at)`,
		},
		{
			// The tick and the stale sweep both filter on status first.
			Version: 2,
			Name:    "sync_jobs_status_index",
			SQL:     `CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status, scheduled_at)`,
		},
	}
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	seen := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// runVersionedMigrations applies pending migrations, each in its own
// transaction together with its bookkeeping row.
func (db *DB) runVersionedMigrations() error {
	ctx, cancel := schemaContext()
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	seen, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations() {
		if seen[m.Version] {
			continue
		}
		if err := db.applyMigration(ctx, m); err != nil {
			return err
		}
		applied++
	}
	if applied > 0 {
		logging.Info().Int("count", applied).Msg("Applied database migrations")
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration v%d: begin: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UTC()); err != nil {
		return fmt.Errorf("migration v%d: record: %w", m.Version, err)
	}
	return tx.Commit()
}

// CurrentSchemaVersion reports the newest applied migration, or 0.
func (db *DB) CurrentSchemaVersion(ctx context.Context) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var version int
	if err := db.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
