// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
)

// Sweeper returns jobs abandoned in running to pending.
type Sweeper struct {
	store    JobStore
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper that reclaims jobs running longer than
// timeout, checking every interval.
func NewSweeper(store JobStore, timeout, interval time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		timeout:  timeout,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep reclaims stale jobs once and reports how many were reclaimed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.store.ReclaimStaleJobs(ctx, now.Add(-s.timeout), now)
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}
	if n > 0 {
		metrics.StaleJobsReclaimed.Add(float64(n))
		logging.Warn().Int("reclaimed", n).Dur("timeout", s.timeout).Msg("Reclaimed stale running jobs")
	}
	return n, nil
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Stale job sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
