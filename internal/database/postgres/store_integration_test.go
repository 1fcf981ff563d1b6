// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/testinfra"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { testinfra.CleanupContainer(t, context.Background(), pg.Container) })

	enc, err := config.NewCredentialEncryptor("integration-test-key")
	if err != nil {
		t.Fatalf("encryptor: %v", err)
	}
	store, err := New(&config.PostgresConfig{Enabled: true, DSN: pg.DSN, MaxOpenConns: 8}, enc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	conn := &models.Connection{UserID: "user-1", Provider: "dexcom", ExternalUserID: "ext-1", AccessToken: "at", RefreshToken: "rt"}
	if err := store.CreateConnection(ctx, conn); err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if err := store.CreateConnection(ctx, &models.Connection{UserID: "user-1", Provider: "dexcom"}); !errors.Is(err, database.ErrConflict) {
		t.Errorf("duplicate connection error = %v, want ErrConflict", err)
	}

	t.Run("connections", func(t *testing.T) {
		got, err := store.FindConnectionByExternalUser(ctx, "dexcom", "ext-1")
		if err != nil {
			t.Fatalf("FindConnectionByExternalUser: %v", err)
		}
		if got.ID != conn.ID || got.AccessToken != "at" || got.RefreshToken != "rt" {
			t.Errorf("connection = %+v", got)
		}
		if err := store.IncrementConnectionErrors(ctx, conn.ID, "boom"); err != nil {
			t.Fatalf("IncrementConnectionErrors: %v", err)
		}
		if err := store.RecordConnectionSuccess(ctx, conn.ID, now); err != nil {
			t.Fatalf("RecordConnectionSuccess: %v", err)
		}
		got, _ = store.GetConnection(ctx, conn.ID)
		if got.ConsecutiveErrors != 0 || got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(now) {
			t.Errorf("after success = %+v", got)
		}
		if _, err := store.GetConnection(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("missing connection error = %v", err)
		}
	})

	t.Run("claim exactly once", func(t *testing.T) {
		job := &models.SyncJob{
			ConnectionID: conn.ID, UserID: conn.UserID, Provider: conn.Provider,
			WindowStart: now.Add(-time.Hour), WindowEnd: now, MaxRetries: 3, ScheduledAt: now.Add(-time.Second),
		}
		if err := store.InsertJob(ctx, job); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}

		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if store.ClaimJob(ctx, job.ID, models.JobPending, "w", now) == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("wins = %d, want 1", wins.Load())
		}

		if err := store.ScheduleRetry(ctx, job.ID, now.Add(time.Minute), models.JobFailure{Code: "NETWORK_TIMEOUT"}, now); err != nil {
			t.Fatalf("ScheduleRetry: %v", err)
		}
		if open, _ := store.HasOpenJob(ctx, conn.ID); !open {
			t.Error("retrying job should be open")
		}
		jobs, err := store.ListClaimable(ctx, now.Add(time.Minute), 10)
		if err != nil || len(jobs) != 1 || jobs[0].RetryCount != 1 {
			t.Fatalf("ListClaimable = %+v, %v", jobs, err)
		}
	})

	t.Run("payloads and metrics idempotent", func(t *testing.T) {
		p := &models.RawPayload{ID: "dexcom:d1", Provider: "dexcom", UserID: "user-1", Source: models.SourceWebhook, Body: []byte(`{"records":[]}`)}
		if ok, err := store.InsertRawPayload(ctx, p); err != nil || !ok {
			t.Fatalf("first insert = %v, %v", ok, err)
		}
		if ok, err := store.InsertRawPayload(ctx, p); err != nil || ok {
			t.Fatalf("repeat insert = %v, %v", ok, err)
		}
		got, err := store.GetRawPayload(ctx, p.ID)
		if err != nil || string(got.Body) != `{"records":[]}` {
			t.Errorf("payload = %+v, %v", got, err)
		}

		m := models.NormalizedMetric{ID: "m1", UserID: "user-1", Provider: "dexcom", MetricType: "glucose", Value: 100, Unit: "mg/dL", Timestamp: now, QualityScore: 1}
		for i := 0; i < 2; i++ {
			if _, err := store.UpsertMetrics(ctx, []models.NormalizedMetric{m}); err != nil {
				t.Fatalf("upsert %d: %v", i, err)
			}
			m.Value = 500
			m.IsAnomaly = true
			m.QualityScore = 0
		}
		if n, _ := store.CountMetrics(ctx, "user-1"); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
		rows, err := store.QueryMetrics(ctx, "user-1", "glucose", now, now)
		if err != nil || len(rows) != 1 {
			t.Fatalf("QueryMetrics = %d, %v", len(rows), err)
		}
		if rows[0].Value != 100 || !rows[0].IsAnomaly || rows[0].QualityScore != 0 {
			t.Errorf("stored metric = %+v", rows[0])
		}
	})
}

func TestAuditStore_Integration(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	trail := store.AuditStore()
	base := time.Now().UTC().Truncate(time.Microsecond)

	events := []audit.Event{
		{ID: "a-1", Timestamp: base.Add(-48 * time.Hour), Type: audit.EventTypeConnectionCreated, Severity: audit.SeverityInfo, Outcome: audit.OutcomeSuccess, Actor: "api", UserID: "user-1", ConnectionID: "c-1", Description: "created"},
		{ID: "a-2", Timestamp: base.Add(-time.Hour), Type: audit.EventTypeTokenRefreshed, Severity: audit.SeverityInfo, Outcome: audit.OutcomeSuccess, Actor: "system", UserID: "user-1", ConnectionID: "c-1", Description: "refreshed", Metadata: []byte(`{"k":1}`)},
		{ID: "a-3", Timestamp: base, Type: audit.EventTypeConnectionRevoked, Severity: audit.SeverityWarning, Outcome: audit.OutcomeSuccess, Actor: "api", UserID: "user-2", ConnectionID: "c-2", Description: "revoked"},
	}
	for i := range events {
		if err := trail.Save(ctx, &events[i]); err != nil {
			t.Fatalf("Save %s: %v", events[i].ID, err)
		}
	}
	if err := trail.Save(ctx, &events[0]); err != nil {
		t.Fatalf("duplicate Save: %v", err)
	}

	got, err := trail.Query(ctx, audit.QueryFilter{ConnectionID: "c-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a-2" || got[1].ID != "a-1" {
		t.Fatalf("Query c-1 = %+v, want a-2 then a-1", got)
	}
	if string(got[0].Metadata) == "" {
		t.Error("metadata not round-tripped")
	}

	deleted, err := trail.Delete(ctx, base.Add(-24*time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("Delete = %d, %v; want 1", deleted, err)
	}
}
