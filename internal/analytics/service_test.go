// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/models"
)

var serviceNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeMetricStore struct {
	mu      sync.Mutex
	metrics []models.NormalizedMetric
	queries atomic.Int32
	err     error
	lastWin [2]time.Time
}

func (f *fakeMetricStore) QueryMetrics(_ context.Context, userID, metricType string, from, to time.Time) ([]models.NormalizedMetric, error) {
	f.queries.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastWin = [2]time.Time{from, to}
	var out []models.NormalizedMetric
	for _, m := range f.metrics {
		if m.UserID == userID && m.MetricType == metricType && !m.Timestamp.Before(from) && !m.Timestamp.After(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMetricStore) add(userID, metric, unit string, start time.Time, step time.Duration, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range values {
		f.metrics = append(f.metrics, models.NormalizedMetric{
			UserID: userID, Provider: "dexcom", MetricType: metric, Unit: unit,
			Value: v, Timestamp: start.Add(time.Duration(i) * step),
		})
	}
}

func newTestService(store MetricStore) *Service {
	s := NewService(store, config.AnalyticsConfig{}, config.CacheConfig{Capacity: 100, TTL: time.Minute})
	s.SetClock(func() time.Time { return serviceNow })
	return s
}

func TestServiceSummaryIsCached(t *testing.T) {
	store := &fakeMetricStore{}
	store.add("user-1", "glucose", "mg/dL", serviceNow.Add(-2*time.Hour), 5*time.Minute, 100, 150, 200)
	s := newTestService(store)
	ctx := context.Background()

	first, err := s.Summary(ctx, "user-1", "glucose", 0)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if first.Count != 3 || first.Mean != 150 || first.Days != DefaultDays {
		t.Errorf("summary = %+v", first)
	}
	if first.EstimatedA1C == nil || *first.EstimatedA1C != 6.85 {
		t.Errorf("EstimatedA1C = %v, want 6.85", first.EstimatedA1C)
	}
	if first.GMI == nil || *first.GMI != 6.9 {
		t.Errorf("GMI = %v, want 6.9", first.GMI)
	}
	if from := store.lastWin[0]; !from.Equal(serviceNow.AddDate(0, 0, -DefaultDays)) {
		t.Errorf("window start = %v", from)
	}

	if _, err := s.Summary(ctx, "user-1", "glucose", 0); err != nil {
		t.Fatal(err)
	}
	if n := store.queries.Load(); n != 1 {
		t.Errorf("store queries = %d, want 1 (second call cached)", n)
	}
	if st := s.CacheStats(); st.Hits != 1 || st.Misses != 1 {
		t.Errorf("cache stats = %+v", st)
	}
}

func TestServiceNonGlucoseHasNoIndices(t *testing.T) {
	store := &fakeMetricStore{}
	store.add("user-1", "heart_rate", "bpm", serviceNow.Add(-time.Hour), time.Minute, 60, 70)
	s := newTestService(store)

	sum, err := s.Summary(context.Background(), "user-1", "heart_rate", 7)
	if err != nil {
		t.Fatal(err)
	}
	if sum.EstimatedA1C != nil || sum.GMI != nil {
		t.Errorf("glucose indices set for heart rate: %+v", sum)
	}
}

func TestServiceInvalidateUser(t *testing.T) {
	store := &fakeMetricStore{}
	store.add("user-1", "glucose", "mg/dL", serviceNow.Add(-time.Hour), 5*time.Minute, 100)
	store.add("user-10", "glucose", "mg/dL", serviceNow.Add(-time.Hour), 5*time.Minute, 100)
	s := newTestService(store)
	ctx := context.Background()

	for _, user := range []string{"user-1", "user-10"} {
		if _, err := s.Summary(ctx, user, "glucose", 1); err != nil {
			t.Fatal(err)
		}
		if _, err := s.TimeInRange(ctx, user, "glucose", 1, 0, 0); err != nil {
			t.Fatal(err)
		}
	}

	if n := s.InvalidateUser("user-1"); n != 2 {
		t.Errorf("InvalidateUser() = %d, want 2", n)
	}

	store.add("user-1", "glucose", "mg/dL", serviceNow.Add(-30*time.Minute), 5*time.Minute, 200)
	sum, err := s.Summary(ctx, "user-1", "glucose", 1)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Count != 2 {
		t.Errorf("Count after invalidation = %d, want 2", sum.Count)
	}

	before := store.queries.Load()
	if _, err := s.Summary(ctx, "user-10", "glucose", 1); err != nil {
		t.Fatal(err)
	}
	if store.queries.Load() != before {
		t.Error("user-10 entries were invalidated with user-1")
	}
}

func TestServiceTimeInRangeAndEvents(t *testing.T) {
	store := &fakeMetricStore{}
	store.add("user-1", "glucose", "mg/dL", serviceNow.Add(-time.Hour), 5*time.Minute,
		110, 100, 65, 58, 52, 61, 95, 105, 190, 120)
	s := newTestService(store)
	ctx := context.Background()

	tir, err := s.TimeInRange(ctx, "user-1", "glucose", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tir.Low != 70 || tir.High != 180 || tir.Count != 10 {
		t.Errorf("tir = %+v", tir)
	}
	if !almostEqual(tir.BelowPct, 40) || !almostEqual(tir.AbovePct, 10) || !almostEqual(tir.InRangePct, 50) {
		t.Errorf("split = %v/%v/%v, want 40/50/10", tir.BelowPct, tir.InRangePct, tir.AbovePct)
	}

	if _, err := s.TimeInRange(ctx, "user-1", "glucose", 1, 180, 70); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("inverted band error = %v, want ErrInvalidQuery", err)
	}

	report, err := s.Events(ctx, "user-1", "glucose", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Events) != 1 || report.Events[0].Kind != EventHypo || report.Events[0].Extreme != 52 {
		t.Errorf("events = %+v", report.Events)
	}
}

func TestServiceMixedUnitGlucose(t *testing.T) {
	store := &fakeMetricStore{}
	start := serviceNow.Add(-time.Hour)
	store.add("user-1", "glucose", "mmol/L", start, time.Minute, 3.5)
	store.add("user-1", "glucose", "mg/dL", start.Add(5*time.Minute), 5*time.Minute, 110, 150)
	store.add("user-1", "glucose", "mmol/L", start.Add(20*time.Minute), time.Minute, 11)
	s := newTestService(store)
	ctx := context.Background()

	tir, err := s.TimeInRange(ctx, "user-1", "glucose", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tir.Unit != "mg/dL" || tir.Count != 4 {
		t.Fatalf("tir = %+v, want 4 readings in mg/dL", tir)
	}
	if !almostEqual(tir.BelowPct, 25) || !almostEqual(tir.InRangePct, 50) || !almostEqual(tir.AbovePct, 25) {
		t.Errorf("split = %v/%v/%v, want 25/50/25", tir.BelowPct, tir.InRangePct, tir.AbovePct)
	}

	sum, err := s.Summary(ctx, "user-1", "glucose", 1)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Unit != "mg/dL" || sum.EstimatedA1C == nil {
		t.Errorf("summary = %+v, want mg/dL with an A1C estimate", sum)
	}
}

func TestServiceCorrelation(t *testing.T) {
	store := &fakeMetricStore{}
	start := serviceNow.AddDate(0, 0, -5).Truncate(24 * time.Hour).Add(8 * time.Hour)
	store.add("user-1", "steps", "count", start, 24*time.Hour, 4000, 6000, 8000, 10000)
	store.add("user-1", "glucose", "mg/dL", start, 24*time.Hour, 160, 140, 120, 100)
	s := newTestService(store)

	c, err := s.Correlation(context.Background(), "user-1", "steps", "glucose", 7)
	if err != nil {
		t.Fatal(err)
	}
	if c.N != 4 || c.Strength != StrengthStrong || c.R > -0.99 {
		t.Errorf("correlation = %+v, want strong negative over 4 days", c)
	}
}

func TestServiceRejectsBadQueries(t *testing.T) {
	s := newTestService(&fakeMetricStore{})
	ctx := context.Background()
	tests := []struct {
		name   string
		metric string
		days   int
	}{
		{"no metric", "", 7},
		{"negative days", "glucose", -1},
		{"too many days", "glucose", MaxDays + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Summary(ctx, "user-1", tt.metric, tt.days); !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("error = %v, want ErrInvalidQuery", err)
			}
		})
	}
	if _, err := s.Correlation(ctx, "user-1", "glucose", "", 7); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("correlation error = %v, want ErrInvalidQuery", err)
	}
}

func TestServiceStoreErrorsAreNotCached(t *testing.T) {
	store := &fakeMetricStore{err: errors.New("connection reset")}
	s := newTestService(store)
	ctx := context.Background()

	if _, err := s.Summary(ctx, "user-1", "glucose", 1); err == nil {
		t.Fatal("expected store error")
	}
	store.err = nil
	if _, err := s.Summary(ctx, "user-1", "glucose", 1); err != nil {
		t.Fatalf("Summary() after recovery error = %v", err)
	}
	if n := store.queries.Load(); n != 2 {
		t.Errorf("queries = %d, want 2", n)
	}
}
