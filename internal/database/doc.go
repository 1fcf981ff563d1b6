// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package database is the embedded DuckDB store for connections, sync jobs,
// raw payloads and normalized metrics.
//
// # Overview
//
// The store is the single source of truth shared by the scheduler, the
// webhook pipeline and the analytics service. Each consumer declares the
// narrow interface it needs; *DB satisfies all of them, and so does the
// Postgres store in the postgres subpackage.
//
// # Files
//
//   - database.go: lifecycle (New, initialize, Close with checkpoint, Ping)
//   - database_schema.go: tables and indexes
//   - migrations.go: versioned schema migrations
//   - crud_connections.go: provider connections and credential sealing
//   - crud_jobs.go: job queue, atomic claim, retry bookkeeping, stale reclaim
//   - crud_payloads.go: append-only raw payload log
//   - crud_metrics.go: idempotent metric upsert and range queries
//
// # Concurrency
//
// A job is claimed with a conditional UPDATE guarded by the status the
// claimer observed. Exactly one worker sees RowsAffected == 1; the others
// get ErrJobNotClaimable and move on. DuckDB transaction conflicts on hot
// rows are retried with a short backoff.
//
// # Idempotence
//
// Raw payloads are keyed by a synthesized delivery id and inserted with
// ON CONFLICT DO NOTHING. Metrics are keyed by (user, provider, type,
// timestamp); replays only refresh the quality fields and updated_at, the
// stored value never changes.
package database
