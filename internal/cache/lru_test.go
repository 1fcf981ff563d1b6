// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestLRU(capacity int, ttl time.Duration) (*LRU[int], *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewLRU[int](capacity, ttl, WithClock[int](clock.Now)), clock
}

func TestLRU_GetSet(t *testing.T) {
	c, _ := newTestLRU(10, time.Minute)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss")
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("updated value = %v", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestLRU(3, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a") // a is now most recent; b is oldest
	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be present", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d", got)
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c, clock := newTestLRU(10, time.Minute)

	c.Set("a", 1)
	c.SetWithTTL("long", 2, time.Hour)
	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("long should still be present")
	}
	s := c.Stats()
	if s.Expirations != 1 || s.Misses != 1 || s.Hits != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestLRU_EntryBookkeeping(t *testing.T) {
	c, clock := newTestLRU(10, time.Minute)

	c.Set("a", 1)
	clock.Advance(10 * time.Second)
	c.Get("a")
	clock.Advance(10 * time.Second)
	c.Get("a")

	info, ok := c.Entry("a")
	if !ok {
		t.Fatal("missing entry")
	}
	if info.AccessCount != 2 {
		t.Errorf("AccessCount = %d", info.AccessCount)
	}
	if want := clock.Now(); !info.LastAccess.Equal(want) {
		t.Errorf("LastAccess = %v, want %v", info.LastAccess, want)
	}
	if want := clock.Now().Add(-20 * time.Second).Add(time.Minute); !info.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, want)
	}
}

func TestLRU_DeletePrefixAndCleanup(t *testing.T) {
	c, clock := newTestLRU(10, time.Minute)

	c.Set("analytics:u1:a", 1)
	c.Set("analytics:u1:b", 2)
	c.Set("analytics:u2:a", 3)

	if n := c.DeletePrefix("analytics:u1:"); n != 2 {
		t.Errorf("DeletePrefix = %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d", c.Len())
	}

	clock.Advance(time.Hour)
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired = %d", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len after cleanup = %d", c.Len())
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[string](50, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%80)
				c.Set(key, key)
				c.Get(key)
				if i%50 == 0 {
					c.DeletePrefix("k1")
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}

func TestStatsHitRate(t *testing.T) {
	if got := (Stats{}).HitRate(); got != 0 {
		t.Errorf("empty HitRate = %v", got)
	}
	if got := (Stats{Hits: 3, Misses: 1}).HitRate(); got != 75 {
		t.Errorf("HitRate = %v", got)
	}
}

func TestGenerateKey(t *testing.T) {
	type q struct {
		Metric string
		Days   int
	}
	a := GenerateKey("analytics:u1", q{"glucose", 14})
	b := GenerateKey("analytics:u1", q{"glucose", 14})
	c := GenerateKey("analytics:u1", q{"glucose", 7})

	if a != b {
		t.Error("same params must give the same key")
	}
	if a == c {
		t.Error("different params must give different keys")
	}
	if !strings.HasPrefix(a, "analytics:u1:") || len(a) != len("analytics:u1:")+16 {
		t.Errorf("key = %q", a)
	}
}
