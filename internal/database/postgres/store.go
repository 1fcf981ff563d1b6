// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package postgres is the shared store for deployments where several sync
// workers run against one database. It offers the same method set as the
// DuckDB store in package database and returns the same sentinel errors,
// so callers never branch on the backend.
//
// Job claims rely on Postgres row locks: the conditional UPDATE in ClaimJob
// serializes concurrent claimers and exactly one sees a row affected.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/logging"
)

const defaultQueryTimeout = 30 * time.Second

// Store is a gorm-backed store.
type Store struct {
	db        *gorm.DB
	encryptor *config.CredentialEncryptor
}

// New opens the database, sizes the pool and migrates the schema.
func New(cfg *config.PostgresConfig, encryptor *config.CredentialEncryptor) (*Store, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get postgres pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: gdb, encryptor: encryptor}
	if err := s.migrate(); err != nil {
		closeErr := sqlDB.Close()
		return nil, errors.Join(err, closeErr)
	}

	if encryptor == nil {
		logging.Warn().Msg("No credential key configured; provider tokens are stored unencrypted")
	}
	logging.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Postgres store ready")
	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.db.WithContext(ctx).AutoMigrate(&connectionRow{}, &jobRow{}, &payloadRow{}, &metricRow{}, &auditRow{}); err != nil {
		return fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return nil
}

// Ping verifies the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not open")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// conn returns a session bound to ctx, with the default timeout applied
// when ctx carries no deadline. The caller must call cancel.
func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
	}
	return s.db.WithContext(ctx), cancel
}

// notFound maps gorm's not-found error to the shared sentinel.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, database.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}
