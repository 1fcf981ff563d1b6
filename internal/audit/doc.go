// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package audit records the lifecycle of provider connections.
//
// Every change to a connection's credentials or status, whether made through
// the API or by the sync engine, becomes an Event:
//
//   - connection.created, connection.credentials_updated, connection.revoked
//     (actor "api", with the client address);
//   - connection.token_refreshed, connection.token_refresh_failed and
//     connection.expired (actor "system");
//   - payload.replayed for operator replays of stored webhook bodies.
//
// Events never carry tokens.
//
// # Architecture
//
//	Logger.Log() -> buffered chan -> writer goroutine -> Store
//
// Log does not block. When the buffer is full the event is dropped, counted
// in vitalsync_audit_events_dropped_total and logged as a warning. Close
// drains the buffer.
//
// Stores: MemoryStore for tests, DuckDBStore on the embedded database, and
// the gorm-backed store in internal/database/postgres for fleet deployments.
// Logger.Run deletes events past the retention period and runs under the
// supervisor's data layer.
package audit
