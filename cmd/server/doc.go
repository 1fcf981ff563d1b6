// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package main is the entry point for the Vitalsync server.

Vitalsync pulls glucose, sleep, activity and body measurements from wearable
and CGM providers, accepts their webhook pushes, normalizes everything into
canonical units and serves per-user analytics.

# Process Layout

	RootSupervisor ("vitalsync")
	├── DataSupervisor ("data-layer")
	│   ├── stale-job-sweeper
	│   ├── analytics-cache-janitor
	│   ├── metrics-ingested-subscriber (EVENTS_ENABLED=true)
	│   ├── event-wal-retrier (EVENTS_WAL_ENABLED=true)
	│   ├── audit-retention (AUDIT_ENABLED=true)
	│   └── database-backup (BACKUP_ENABLED=true, DuckDB only)
	├── SyncSupervisor ("sync-layer")
	│   ├── sync-scheduler
	│   └── recurring-sync
	└── APISupervisor ("api-layer")
	    ├── websocket-hub (EVENTS_ENABLED=true)
	    └── http-server

# Configuration

Koanf v2 layers built-in defaults, an optional YAML file (CONFIG_PATH or
./config.yaml) and environment variables. Commonly set:

	DUCKDB_PATH                  embedded store file (default /data/vitalsync.duckdb)
	POSTGRES_ENABLED, POSTGRES_DSN
	                             shared store for several workers
	DEXCOM_CLIENT_ID, DEXCOM_CLIENT_SECRET, OURA_..., WITHINGS_...
	                             provider OAuth clients
	WEBHOOK_SECRET_<PROVIDER>    shared HMAC secret per provider
	CREDENTIAL_KEY               seals provider tokens at rest
	BREAKER_REDIS_ENABLED, REDIS_URL
	                             share open breakers across workers
	EVENTS_ENABLED, NATS_URL     metrics.ingested events (in process without NATS_URL)
	EVENTS_WAL_ENABLED, EVENTS_WAL_PATH
	                             BadgerDB outbox for events NATS has not accepted
	AUDIT_ENABLED, AUDIT_RETENTION_DAYS
	                             connection audit trail
	BACKUP_ENABLED, BACKUP_DIR, BACKUP_SCHEDULE
	                             nightly DuckDB snapshots with retention
	HTTP_PORT, CORS_ORIGINS
	LOG_LEVEL, LOG_FORMAT

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains for up to
10s and the scheduler waits for in-flight jobs. The event bus and Redis
client close next, then the audit buffer is flushed and the store closed.
*/
package main
