// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

func setupDuckDBStore(t *testing.T) *DuckDBStore {
	t.Helper()

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory DuckDB: %v", err)
	}
	// Each pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := NewDuckDBStore(db)
	if err := store.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := store.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable is not idempotent: %v", err)
	}
	return store
}

func TestDuckDBStoreSaveAndQuery(t *testing.T) {
	store := setupDuckDBStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	events := []Event{
		{ID: "e-1", Timestamp: base, Type: EventTypeConnectionCreated, Severity: SeverityInfo, Outcome: OutcomeSuccess,
			Actor: "api", UserID: "u-1", ConnectionID: "c-1", Provider: "oura", SourceIP: "192.0.2.1", Description: "created"},
		{ID: "e-2", Timestamp: base.Add(time.Hour), Type: EventTypeConnectionExpired, Severity: SeverityCritical, Outcome: OutcomeFailure,
			Actor: "system", UserID: "u-1", ConnectionID: "c-1", Provider: "oura", Description: "expired",
			Metadata: []byte(`{"error_code":"TOKEN_INVALID"}`), CorrelationID: "corr-9"},
		{ID: "e-3", Timestamp: base.Add(2 * time.Hour), Type: EventTypeConnectionCreated, Severity: SeverityInfo, Outcome: OutcomeSuccess,
			Actor: "api", UserID: "u-2", ConnectionID: "c-2", Provider: "dexcom", Description: "created"},
	}
	for i := range events {
		if err := store.Save(ctx, &events[i]); err != nil {
			t.Fatalf("Save %s: %v", events[i].ID, err)
		}
	}
	if err := store.Save(ctx, &events[0]); err != nil {
		t.Errorf("duplicate Save: %v", err)
	}
	if err := store.Save(ctx, nil); err == nil {
		t.Error("Save(nil) succeeded")
	}

	got, err := store.Query(ctx, QueryFilter{ConnectionID: "c-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "e-2" || got[1].ID != "e-1" {
		t.Fatalf("Query c-1 = %+v, want e-2 then e-1", got)
	}
	expired := got[0]
	if expired.Type != EventTypeConnectionExpired || expired.Severity != SeverityCritical || expired.Outcome != OutcomeFailure {
		t.Errorf("expired event = %+v", expired)
	}
	if string(expired.Metadata) != `{"error_code":"TOKEN_INVALID"}` {
		t.Errorf("metadata = %s", expired.Metadata)
	}
	if expired.CorrelationID != "corr-9" || !expired.Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("correlation/timestamp = %q/%v", expired.CorrelationID, expired.Timestamp)
	}
	if got[1].SourceIP != "192.0.2.1" || got[1].Metadata != nil {
		t.Errorf("created event = %+v", got[1])
	}

	byType, err := store.Query(ctx, QueryFilter{Types: []EventType{EventTypeConnectionCreated}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].ID != "e-3" {
		t.Errorf("type query = %+v, want e-3", byType)
	}

	end := base.Add(30 * time.Minute)
	early, err := store.Query(ctx, QueryFilter{EndTime: &end, UserID: "u-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(early) != 1 || early[0].ID != "e-1" {
		t.Errorf("time query = %+v, want e-1", early)
	}
}

func TestDuckDBStoreDelete(t *testing.T) {
	store := setupDuckDBStore(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []int{100, 50, 1} {
		e := Event{ID: string(rune('a' + i)), Timestamp: now.AddDate(0, 0, -age), Type: EventTypeTokenRefreshed,
			Severity: SeverityInfo, Outcome: OutcomeSuccess, Actor: "system", Description: "refreshed"}
		if err := store.Save(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := store.Delete(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	left, _ := store.Query(ctx, QueryFilter{})
	if len(left) != 1 || left[0].ID != "c" {
		t.Errorf("remaining = %+v", left)
	}
}
