// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package breaker isolates failing dependencies behind per-key circuit
// breakers.
//
// A Registry is an explicit state object: the scheduler and the webhook path
// each hold a reference to the same registry instead of sharing a package
// level map. Breakers are created lazily per dependency key (normally the
// provider name). An optional FleetStore shares the open state between
// worker processes.
//
// The state machine is sony/gobreaker and therefore uses the wall clock for
// its open timeout and counting window. Tests use short timeouts rather
// than a fake clock.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
)

// ErrOpen is returned, wrapped together with the gobreaker error, when a
// call is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker open")

// State names as exposed in snapshots and the API.
const (
	StateClosed   = "closed"
	StateHalfOpen = "half_open"
	StateOpen     = "open"
)

// Settings configures every breaker in a registry.
type Settings struct {
	// Threshold is the number of consecutive counted failures that opens
	// a breaker.
	Threshold uint32
	// OpenTimeout is how long a breaker stays open before it lets a
	// single trial call through.
	OpenTimeout time.Duration
	// CountWindow is the closed-state counting window. Counts reset when
	// it elapses.
	CountWindow time.Duration
	// IsFailure decides whether an error counts toward Threshold. Errors
	// for which it returns false are neither failures nor successes. Nil
	// counts every error.
	IsFailure func(error) bool
	// Fleet optionally shares open state between processes.
	Fleet FleetStore
	// Now is used for snapshot timestamps.
	Now func() time.Time
}

// SettingsFromConfig maps the breaker config section onto Settings.
func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	return Settings{
		Threshold:   cfg.Threshold,
		OpenTimeout: cfg.OpenTimeout,
		CountWindow: cfg.CountWindow,
	}
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Key             string     `json:"key"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

type entry struct {
	cb *gobreaker.CircuitBreaker[any]

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// Registry owns one breaker per dependency key.
type Registry struct {
	settings Settings

	mu       sync.RWMutex
	breakers map[string]*entry
}

// NewRegistry creates an empty registry. Zero settings fall back to a
// threshold of 5, a 5 minute open timeout and a 1 minute counting window.
func NewRegistry(s Settings) *Registry {
	if s.Threshold == 0 {
		s.Threshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 5 * time.Minute
	}
	if s.CountWindow <= 0 {
		s.CountWindow = time.Minute
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Registry{settings: s, breakers: make(map[string]*entry)}
}

func (r *Registry) get(key string) *entry {
	r.mu.RLock()
	e, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.breakers[key]; ok {
		return e
	}

	metrics.CircuitBreakerState.WithLabelValues(key).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(key).Set(0)

	threshold := r.settings.Threshold
	isFailure := r.settings.IsFailure
	e = &entry{}
	e.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    r.settings.CountWindow,
		Timeout:     r.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsExcluded: func(err error) bool {
			return err != nil && !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateName(from), stateName(to)
			event := logging.Info()
			if to == gobreaker.StateOpen {
				event = logging.Warn()
			}
			event.Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("Circuit breaker state changed")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
	r.breakers[key] = e
	return e
}

// Execute runs fn through the breaker for key. If the breaker is open, or
// a half-open trial call is already in flight, fn is not called and the
// returned error wraps ErrOpen.
func (r *Registry) Execute(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	e := r.get(key)

	if r.settings.Fleet != nil && e.cb.State() == gobreaker.StateClosed {
		open, err := r.settings.Fleet.IsOpen(ctx, key)
		if err != nil {
			logging.Warn().Err(err).Str("breaker", key).Msg("Fleet breaker lookup failed, using local state")
		} else if open {
			metrics.CircuitBreakerRequests.WithLabelValues(key, "rejected").Inc()
			return nil, fmt.Errorf("%w: %s (fleet): %w", ErrOpen, key, gobreaker.ErrOpenState)
		}
	}

	before := e.cb.State()
	if before == gobreaker.StateClosed {
		// State() has already rolled the counts over if the counting window
		// elapsed.
		e.mu.Lock()
		e.failures = int(e.cb.Counts().ConsecutiveFailures)
		e.mu.Unlock()
	}
	invoked := false
	res, err := e.cb.Execute(func() (any, error) {
		invoked = true
		return fn(ctx)
	})
	after := e.cb.State()
	r.syncFleet(ctx, key, before, after)

	switch {
	case !invoked:
		metrics.CircuitBreakerRequests.WithLabelValues(key, "rejected").Inc()
		logging.Debug().Str("breaker", key).Err(err).Msg("Circuit breaker rejected call")
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, key, err)
	case err == nil:
		e.mu.Lock()
		e.failures = 0
		e.mu.Unlock()
		metrics.CircuitBreakerRequests.WithLabelValues(key, "success").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(key).Set(0)
		return res, nil
	case r.settings.IsFailure(err):
		e.mu.Lock()
		e.failures++
		e.lastFailure = r.settings.Now()
		failures := e.failures
		e.mu.Unlock()
		metrics.CircuitBreakerRequests.WithLabelValues(key, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(key).Set(float64(failures))
		return res, err
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(key, "excluded").Inc()
		return res, err
	}
}

func (r *Registry) syncFleet(ctx context.Context, key string, before, after gobreaker.State) {
	fleet := r.settings.Fleet
	if fleet == nil || before == after {
		return
	}
	var err error
	switch after {
	case gobreaker.StateOpen:
		err = fleet.MarkOpen(ctx, key, r.settings.OpenTimeout)
	case gobreaker.StateClosed:
		err = fleet.Clear(ctx, key)
	}
	if err != nil {
		logging.Warn().Err(err).Str("breaker", key).Msg("Failed to publish breaker state to fleet store")
	}
}

// Call is Execute with a typed result.
func Call[T any](ctx context.Context, r *Registry, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	res, err := r.Execute(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if typed, ok := res.(T); ok {
			return typed, err
		}
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker %s: unexpected result type %T", key, res)
	}
	return typed, nil
}

// OpenTimeout is how long an opened breaker rejects calls.
func (r *Registry) OpenTimeout() time.Duration {
	return r.settings.OpenTimeout
}

// State returns a snapshot for key. Keys that were never used are closed.
func (r *Registry) State(key string) Snapshot {
	r.mu.RLock()
	e, ok := r.breakers[key]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{Key: key, State: StateClosed}
	}
	return e.snapshot(key)
}

// States returns snapshots for every known key, sorted by key.
func (r *Registry) States() []Snapshot {
	r.mu.RLock()
	keys := make([]string, 0, len(r.breakers))
	entries := make(map[string]*entry, len(r.breakers))
	for k, e := range r.breakers {
		keys = append(keys, k)
		entries[k] = e
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, entries[k].snapshot(k))
	}
	return out
}

func (e *entry) snapshot(key string) Snapshot {
	state := e.cb.State()
	e.mu.Lock()
	defer e.mu.Unlock()
	failures := e.failures
	if state == gobreaker.StateClosed {
		failures = int(e.cb.Counts().ConsecutiveFailures)
	}
	s := Snapshot{Key: key, State: stateName(state), FailureCount: failures}
	if !e.lastFailure.IsZero() {
		t := e.lastFailure
		s.LastFailureTime = &t
	}
	return s
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateName(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return "unknown"
	}
}
