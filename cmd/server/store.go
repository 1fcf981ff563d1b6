// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/vitalsync/internal/analytics"
	"github.com/tomtom215/vitalsync/internal/api"
	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/backup"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/database/postgres"
	"github.com/tomtom215/vitalsync/internal/ingest"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/sync"
)

// appStore is what every component needs from persistence. The DuckDB and
// Postgres backends both satisfy it.
type appStore interface {
	sync.Store
	ingest.Store
	api.Store
	analytics.MetricStore
	Close() error
}

var (
	_ appStore = (*database.DB)(nil)
	_ appStore = (*postgres.Store)(nil)
)

// openStore selects Postgres when enabled, otherwise the embedded DuckDB
// file.
func openStore(cfg *config.Config, encryptor *config.CredentialEncryptor) (appStore, error) {
	if cfg.Postgres.Enabled {
		store, err := postgres.New(&cfg.Postgres, encryptor)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		logging.Info().Msg("Postgres store initialized")
		return store, nil
	}

	db, err := database.New(&cfg.Database, encryptor)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	logging.Info().Str("path", cfg.Database.Path).Msg("DuckDB store initialized")
	return db, nil
}

// newAuditStore keeps the audit trail in the same database as everything
// else.
func newAuditStore(ctx context.Context, store appStore) (audit.Store, error) {
	switch s := store.(type) {
	case *postgres.Store:
		return s.AuditStore(), nil
	case *database.DB:
		trail := audit.NewDuckDBStore(s.Conn())
		if err := trail.CreateTable(ctx); err != nil {
			return nil, fmt.Errorf("audit table: %w", err)
		}
		return trail, nil
	default:
		return audit.NewMemoryStore(0), nil
	}
}

// newBackupManager returns nil when backups are disabled or the store is not
// an on-disk DuckDB file.
func newBackupManager(cfg config.BackupConfig, store appStore) (*backup.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	db, ok := store.(*database.DB)
	if !ok {
		logging.Warn().Msg("Backups only cover the embedded DuckDB store; skipping")
		return nil, nil
	}
	mgr, err := backup.NewManager(cfg, db)
	if errors.Is(err, backup.ErrNotFileBacked) {
		logging.Warn().Msg("In-memory database cannot be backed up; skipping")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backup manager: %w", err)
	}
	return mgr, nil
}
