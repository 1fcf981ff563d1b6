// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package audit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
)

func enabledConfig() config.AuditConfig {
	return config.AuditConfig{Enabled: true, RetentionDays: 30, BufferSize: 16, CleanupInterval: time.Hour}
}

var testConn = &models.Connection{ID: "conn-1", UserID: "user-1", Provider: "dexcom"}

func TestLoggerRecordsConnectionLifecycle(t *testing.T) {
	store := NewMemoryStore(100)
	logger := NewLogger(store, enabledConfig())

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	logger.LogConnectionCreated(ctx, testConn, "203.0.113.7")
	logger.LogCredentialsUpdated(ctx, testConn, 2, "203.0.113.7")
	logger.LogTokenRefreshed(ctx, testConn)
	logger.LogConnectionRevoked(ctx, testConn, "203.0.113.7")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := logger.Query(context.Background(), QueryFilter{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []EventType{EventTypeConnectionRevoked, EventTypeTokenRefreshed, EventTypeCredentialsUpdated, EventTypeConnectionCreated}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Errorf("events[%d].Type = %s, want %s", i, e.Type, want[i])
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("events[%d] missing id or timestamp: %+v", i, e)
		}
		if e.CorrelationID != "corr-1" {
			t.Errorf("events[%d].CorrelationID = %q", i, e.CorrelationID)
		}
		if e.UserID != "user-1" || e.Provider != "dexcom" {
			t.Errorf("events[%d] = %+v, want user-1/dexcom", i, e)
		}
	}
	if events[3].Actor != "api" || events[3].SourceIP != "203.0.113.7" {
		t.Errorf("created event actor/source = %q/%q", events[3].Actor, events[3].SourceIP)
	}
	if events[1].Actor != "system" {
		t.Errorf("refresh actor = %q, want system", events[1].Actor)
	}

	var meta map[string]int
	if err := json.Unmarshal(events[2].Metadata, &meta); err != nil || meta["resumed_jobs"] != 2 {
		t.Errorf("credentials metadata = %s (%v)", events[2].Metadata, err)
	}
}

func TestLoggerDisabled(t *testing.T) {
	store := NewMemoryStore(10)
	cfg := enabledConfig()
	cfg.Enabled = false
	logger := NewLogger(store, cfg)
	logger.LogConnectionCreated(context.Background(), testConn, "")
	_ = logger.Close()

	if store.Len() != 0 {
		t.Errorf("disabled logger stored %d events", store.Len())
	}

	discard := Disabled()
	discard.LogConnectionRevoked(context.Background(), testConn, "")
	events, err := discard.Query(context.Background(), QueryFilter{})
	if err != nil || len(events) != 0 {
		t.Errorf("Disabled().Query = %v, %v", events, err)
	}
	if err := discard.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// blockingStore holds Save until release is closed.
type blockingStore struct {
	*MemoryStore
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, e *Event) error {
	<-b.release
	return b.MemoryStore.Save(ctx, e)
}

func TestLoggerDropsWhenBufferFull(t *testing.T) {
	store := &blockingStore{MemoryStore: NewMemoryStore(100), release: make(chan struct{})}
	cfg := enabledConfig()
	cfg.BufferSize = 1
	logger := NewLogger(store, cfg)

	before := testutil.ToFloat64(metrics.AuditEventsDropped)
	for range 5 {
		logger.LogTokenRefreshed(context.Background(), testConn)
	}
	if got := testutil.ToFloat64(metrics.AuditEventsDropped) - before; got < 1 {
		t.Errorf("dropped = %v, want at least 1", got)
	}

	close(store.release)
	_ = logger.Close()
	if n := store.Len(); n < 1 || n > 2 {
		t.Errorf("stored %d events, want 1 or 2", n)
	}
}

func TestLoggerCleanupHonorsRetention(t *testing.T) {
	store := NewMemoryStore(100)
	logger := NewLogger(store, enabledConfig())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return now }

	ctx := context.Background()
	_ = store.Save(ctx, &Event{ID: "old", Timestamp: now.AddDate(0, 0, -31), Type: EventTypeConnectionCreated})
	_ = store.Save(ctx, &Event{ID: "recent", Timestamp: now.AddDate(0, 0, -29), Type: EventTypeConnectionCreated})

	deleted, err := logger.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 || store.Len() != 1 {
		t.Errorf("deleted=%d remaining=%d, want 1 and 1", deleted, store.Len())
	}
	_ = logger.Close()
}

func TestLoggerRunStopsOnCancel(t *testing.T) {
	logger := NewLogger(NewMemoryStore(10), enabledConfig())
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- logger.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryStoreQueryFilters(t *testing.T) {
	store := NewMemoryStore(100)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, e := range []Event{
		{ConnectionID: "c-1", UserID: "u-1", Type: EventTypeConnectionCreated},
		{ConnectionID: "c-1", UserID: "u-1", Type: EventTypeTokenRefreshed},
		{ConnectionID: "c-2", UserID: "u-2", Type: EventTypeConnectionCreated},
		{ConnectionID: "c-1", UserID: "u-1", Type: EventTypeConnectionRevoked},
	} {
		e.ID = string(rune('a' + i))
		e.Timestamp = base.Add(time.Duration(i) * time.Hour)
		_ = store.Save(ctx, &e)
	}
	start := base.Add(time.Hour)

	tests := []struct {
		name   string
		filter QueryFilter
		want   string
	}{
		{"all newest first", QueryFilter{}, "dcba"},
		{"by connection", QueryFilter{ConnectionID: "c-1"}, "dba"},
		{"by user", QueryFilter{UserID: "u-2"}, "c"},
		{"by type", QueryFilter{Types: []EventType{EventTypeConnectionCreated}}, "ca"},
		{"since", QueryFilter{StartTime: &start}, "dcb"},
		{"limit", QueryFilter{Limit: 2}, "dc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := store.Query(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			got := ""
			for _, e := range events {
				got += e.ID
			}
			if got != tt.want {
				t.Errorf("ids = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(10)
	for i := range 12 {
		_ = store.Save(context.Background(), &Event{ID: string(rune('a' + i))})
	}
	if store.Len() != 10 {
		t.Errorf("Len = %d, want 10", store.Len())
	}
}

func TestSourceIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "198.51.100.4:5123"
	if got := SourceIP(r); got != "198.51.100.4" {
		t.Errorf("SourceIP = %q", got)
	}
	r.RemoteAddr = "198.51.100.4"
	if got := SourceIP(r); got != "198.51.100.4" {
		t.Errorf("SourceIP without port = %q", got)
	}
}
