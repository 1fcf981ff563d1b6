// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/vitalsync/internal/cache"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
)

const (
	// DefaultDays is the lookback used when a query names none.
	DefaultDays = 14
	// MaxDays bounds the lookback of a single query.
	MaxDays = 365

	cacheName = "analytics"
)

// ErrInvalidQuery is returned for queries with a bad metric or range.
var ErrInvalidQuery = errors.New("invalid analytics query")

// MetricStore is the read side the service needs.
type MetricStore interface {
	QueryMetrics(ctx context.Context, userID, metricType string, from, to time.Time) ([]models.NormalizedMetric, error)
}

// Summary is Stats plus, for glucose in mg/dL, the A1c and GMI estimates.
type Summary struct {
	Stats
	Metric       string   `json:"metric"`
	Days         int      `json:"days"`
	EstimatedA1C *float64 `json:"estimated_a1c,omitempty"`
	GMI          *float64 `json:"gmi,omitempty"`
}

// RangeReport is a time-in-range result with the band it used.
type RangeReport struct {
	TIR
	Metric string  `json:"metric"`
	Days   int     `json:"days"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Unit   string  `json:"unit"`
}

// EventReport lists the excursions found in a window.
type EventReport struct {
	Metric string  `json:"metric"`
	Days   int     `json:"days"`
	Events []Event `json:"events"`
}

// CorrelationReport is the correlation of two metrics over a window.
type CorrelationReport struct {
	Correlation
	MetricA string `json:"metric_a"`
	MetricB string `json:"metric_b"`
	Days    int    `json:"days"`
}

// Service computes analytics from stored metrics and memoizes the results
// per user until new data for that user arrives.
type Service struct {
	store  MetricStore
	cache  *cache.LRU[any]
	group  singleflight.Group
	events EventConfig
	now    func() time.Time
}

// NewService creates a service backed by store.
func NewService(store MetricStore, acfg config.AnalyticsConfig, ccfg config.CacheConfig) *Service {
	return &Service{
		store:  store,
		cache:  cache.NewLRU[any](ccfg.Capacity, ccfg.TTL),
		events: EventConfigFrom(acfg),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used to anchor query windows.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Summary returns dispersion statistics of metric over the last days.
func (s *Service) Summary(ctx context.Context, userID, metric string, days int) (*Summary, error) {
	days, err := checkQuery(metric, days)
	if err != nil {
		return nil, err
	}
	key := cache.GenerateKey(userPrefix(userID), struct {
		Op     string
		Metric string
		Days   int
	}{"summary", metric, days})

	return cached(s, key, func() (*Summary, error) {
		rs, err := s.readings(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		sum := &Summary{Stats: SummarizeIn(rs, canonicalUnit(metric)), Metric: metric, Days: days}
		if metric == normalize.Glucose && sum.Unit == normalize.UnitMgDL && sum.Count > 0 {
			a1c := normalize.Round(EstimateA1C(sum.Mean), 2)
			gmi := normalize.Round(GMI(sum.Mean), 2)
			sum.EstimatedA1C, sum.GMI = &a1c, &gmi
		}
		return sum, nil
	})
}

// TimeInRange returns the in-range split of metric. Zero bounds use the
// configured band. Glucose bounds are in the band's unit and other metrics
// use their canonical unit.
func (s *Service) TimeInRange(ctx context.Context, userID, metric string, days int, low, high float64) (*RangeReport, error) {
	days, err := checkQuery(metric, days)
	if err != nil {
		return nil, err
	}
	unit := canonicalUnit(metric)
	if metric == normalize.Glucose {
		unit = s.events.Unit
	}
	if low == 0 && high == 0 {
		low, high, unit = s.events.Low, s.events.High, s.events.Unit
	}
	if low >= high {
		return nil, fmt.Errorf("%w: low %v must be below high %v", ErrInvalidQuery, low, high)
	}
	key := cache.GenerateKey(userPrefix(userID), struct {
		Op        string
		Metric    string
		Days      int
		Low, High float64
		Unit      string
	}{"tir", metric, days, low, high, unit})

	return cached(s, key, func() (*RangeReport, error) {
		rs, err := s.readings(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		return &RangeReport{
			TIR:    TimeInRangeIn(rs, low, high, unit),
			Metric: metric,
			Days:   days,
			Low:    low,
			High:   high,
			Unit:   unit,
		}, nil
	})
}

// Events returns hypo and hyper excursions of metric.
func (s *Service) Events(ctx context.Context, userID, metric string, days int) (*EventReport, error) {
	days, err := checkQuery(metric, days)
	if err != nil {
		return nil, err
	}
	key := cache.GenerateKey(userPrefix(userID), struct {
		Op     string
		Metric string
		Days   int
	}{"events", metric, days})

	return cached(s, key, func() (*EventReport, error) {
		rs, err := s.readings(ctx, userID, metric, days)
		if err != nil {
			return nil, err
		}
		events := DetectEvents(rs, s.events)
		if events == nil {
			events = []Event{}
		}
		return &EventReport{Metric: metric, Days: days, Events: events}, nil
	})
}

// Correlation correlates two metrics by day.
func (s *Service) Correlation(ctx context.Context, userID, metricA, metricB string, days int) (*CorrelationReport, error) {
	days, err := checkQuery(metricA, days)
	if err != nil {
		return nil, err
	}
	if _, err := checkQuery(metricB, days); err != nil {
		return nil, err
	}
	key := cache.GenerateKey(userPrefix(userID), struct {
		Op   string
		A, B string
		Days int
	}{"correlation", metricA, metricB, days})

	return cached(s, key, func() (*CorrelationReport, error) {
		a, err := s.readings(ctx, userID, metricA, days)
		if err != nil {
			return nil, err
		}
		b, err := s.readings(ctx, userID, metricB, days)
		if err != nil {
			return nil, err
		}
		return &CorrelationReport{Correlation: Correlate(a, b), MetricA: metricA, MetricB: metricB, Days: days}, nil
	})
}

// InvalidateUser drops every cached result of userID and returns how many
// entries were removed.
func (s *Service) InvalidateUser(userID string) int {
	n := s.cache.DeletePrefix(userPrefix(userID) + ":")
	if n > 0 {
		logging.Debug().Str("user_id", userID).Int("entries", n).Msg("Invalidated analytics cache")
	}
	return n
}

// CacheStats reports the result cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// CleanupExpired evicts expired cache entries.
func (s *Service) CleanupExpired() int {
	return s.cache.CleanupExpired()
}

func (s *Service) readings(ctx context.Context, userID, metric string, days int) ([]Reading, error) {
	to := s.now()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	ms, err := s.store.QueryMetrics(ctx, userID, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s metrics: %w", metric, err)
	}
	return FromMetrics(ms), nil
}

// cached returns the memoized value for key or computes it once, even under
// concurrent misses.
func cached[T any](s *Service, key string, compute func() (T, error)) (T, error) {
	if v, ok := s.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			metrics.RecordCacheLookup(cacheName, true)
			return t, nil
		}
	}
	metrics.RecordCacheLookup(cacheName, false)

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		t, err := compute()
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, t)
		return t, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func checkQuery(metric string, days int) (int, error) {
	if metric == "" {
		return 0, fmt.Errorf("%w: metric is required", ErrInvalidQuery)
	}
	if days == 0 {
		days = DefaultDays
	}
	if days < 0 || days > MaxDays {
		return 0, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidQuery, MaxDays)
	}
	return days, nil
}

func userPrefix(userID string) string {
	return "analytics:" + userID
}

// canonicalUnit is the unit metric is stored in, or empty for metrics
// without a definition.
func canonicalUnit(metric string) string {
	if d, ok := normalize.Lookup(metric); ok {
		return d.Unit
	}
	return ""
}
