// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/models"
)

func TestNewRecurringValidatesSchedule(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &recordingRunner{store: store}, testSyncConfig())

	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"", false},
		{"0 */15 * * * *", false},
		{"@every 10m", false},
		{"*/5 * * * *", true},
		{"not a schedule", true},
	}
	for _, tt := range tests {
		_, err := NewRecurring(s, store, tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewRecurring(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestEnqueueDue(t *testing.T) {
	store := newMemStore()
	lastSync := testNow.Add(-2 * time.Hour)
	never := store.addConnection(models.Connection{ID: "a-never", UserID: "u1", Provider: "dexcom"})
	synced := store.addConnection(models.Connection{ID: "b-synced", UserID: "u2", Provider: "oura", LastSyncedAt: &lastSync})
	busy := store.addConnection(models.Connection{ID: "c-busy", UserID: "u3", Provider: "oura", LastSyncedAt: &lastSync})
	store.addConnection(models.Connection{ID: "d-expired", UserID: "u4", Provider: "oura", Status: models.ConnectionExpired})
	store.addConnection(models.Connection{ID: "e-revoked", UserID: "u5", Provider: "oura", Status: models.ConnectionRevoked})

	s := newTestScheduler(store, &recordingRunner{store: store}, testSyncConfig())
	ctx := context.Background()
	busyJob, err := s.Enqueue(ctx, busy.ID, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewRecurring(s, store, "@every 1m")
	if err != nil {
		t.Fatal(err)
	}
	n, err := r.EnqueueDue(ctx)
	if err != nil {
		t.Fatalf("EnqueueDue() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued = %d, want 2", n)
	}

	byConn := make(map[string]models.SyncJob)
	for id, j := range store.jobs {
		if id != busyJob {
			byConn[j.ConnectionID] = *j
		}
	}
	if len(byConn) != 2 {
		t.Fatalf("new jobs for %d connections, want 2", len(byConn))
	}

	first := byConn[never.ID]
	if first.Priority != models.PriorityInitial || !first.FullBackfill {
		t.Errorf("never-synced job priority=%d backfill=%v, want initial backfill", first.Priority, first.FullBackfill)
	}
	if !first.WindowStart.Equal(testNow.AddDate(0, 0, -30)) {
		t.Errorf("backfill window start = %v", first.WindowStart)
	}

	regular := byConn[synced.ID]
	if regular.Priority != models.PriorityScheduled || regular.FullBackfill {
		t.Errorf("synced job priority=%d backfill=%v, want scheduled incremental", regular.Priority, regular.FullBackfill)
	}
	if !regular.WindowStart.Equal(lastSync) {
		t.Errorf("incremental window start = %v, want %v", regular.WindowStart, lastSync)
	}

	// Everything now has an open job.
	n, err = r.EnqueueDue(ctx)
	if err != nil || n != 0 {
		t.Errorf("second EnqueueDue() = %d, %v; want 0, nil", n, err)
	}
}

func TestRecurringRunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	s := newTestScheduler(store, &recordingRunner{store: store}, testSyncConfig())
	r, err := NewRecurring(s, store, "@every 1h")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
