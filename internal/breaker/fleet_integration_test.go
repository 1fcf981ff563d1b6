// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

//go:build integration

package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/testinfra"
)

func TestRedisFleetStore_Integration(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := testinfra.NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, rc.Container)

	client, err := NewRedisClient(ctx, rc.URL)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	store := NewRedisFleetStore(client, "test")

	open, err := store.IsOpen(ctx, "dexcom")
	if err != nil || open {
		t.Fatalf("fresh key open = %v, %v", open, err)
	}

	if err := store.MarkOpen(ctx, "dexcom", 500*time.Millisecond); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}
	if open, _ := store.IsOpen(ctx, "dexcom"); !open {
		t.Error("marked key should be open")
	}
	if ttl := client.TTL(ctx, "test:open:dexcom").Val(); ttl <= 0 || ttl > 500*time.Millisecond {
		t.Errorf("ttl = %v", ttl)
	}

	time.Sleep(700 * time.Millisecond)
	if open, _ := store.IsOpen(ctx, "dexcom"); open {
		t.Error("marker should expire with its ttl")
	}

	if err := store.MarkOpen(ctx, "oura", time.Minute); err != nil {
		t.Fatalf("MarkOpen: %v", err)
	}
	if err := store.Clear(ctx, "oura"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if open, _ := store.IsOpen(ctx, "oura"); open {
		t.Error("cleared key should be closed")
	}
}
