// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/models"
)

// testDBSemaphore limits concurrent database creation to prevent resource exhaustion in CI.
// When many tests run in parallel, too many concurrent DuckDB CGO calls can cause hangs.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex serializes database creation for short periods to reduce contention.
var testDBMutex sync.Mutex

// setupTestDB creates a new in-memory test database with timeout protection.
// The semaphore is held for the entire test and released by t.Cleanup, so
// only one test has an open DuckDB connection at a time.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	return setupTestDBWithEncryptor(t, nil)
}

func setupTestDBWithEncryptor(t *testing.T, enc *config.CredentialEncryptor) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "512MB",
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg, enc)
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() {
			if err := res.db.Close(); err != nil {
				t.Logf("close test database: %v", err)
			}
		})
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s (DuckDB may be under resource pressure)")
		return nil
	}
}

func insertTestConnection(t *testing.T, db *DB, userID, provider, externalID string) *models.Connection {
	t.Helper()
	c := &models.Connection{
		UserID:         userID,
		Provider:       provider,
		ExternalUserID: externalID,
		AccessToken:    "access-" + userID,
		RefreshToken:   "refresh-" + userID,
	}
	if err := db.CreateConnection(context.Background(), c); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	return c
}

func TestNewAppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, err := db.CurrentSchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("CurrentSchemaVersion: %v", err)
	}
	if want := migrations()[len(migrations())-1].Version; version != want {
		t.Errorf("schema version = %d, want %d", version, want)
	}

	// A second run must be a no-op.
	if err := db.runVersionedMigrations(); err != nil {
		t.Errorf("rerun migrations: %v", err)
	}
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	var nilDB DB
	if err := nilDB.Ping(context.Background()); err == nil {
		t.Error("Ping on nil connection should fail")
	}
}

func TestIsTransactionConflict(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("TransactionContext Error: Transaction conflict: cannot update"), true},
		{errors.New("Conflict on update!"), true},
		{errors.New("Constraint Error: Duplicate key"), false},
	}
	for _, tt := range tests {
		if got := isTransactionConflict(tt.err); got != tt.want {
			t.Errorf("isTransactionConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWithConflictRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withConflictRetry(ctx, func() error {
		calls++
		if calls < 3 {
			return errors.New("Transaction conflict")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d; want success on third call", err, calls)
	}

	calls = 0
	plain := errors.New("syntax error")
	err = withConflictRetry(ctx, func() error {
		calls++
		return plain
	})
	if !errors.Is(err, plain) || calls != 1 {
		t.Errorf("err = %v, calls = %d; want immediate failure", err, calls)
	}
}
