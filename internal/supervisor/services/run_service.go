// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/vitalsync/internal/logging"
)

// Runner blocks until ctx is canceled. The stale job sweeper and the
// recurring enqueue schedule satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunService supervises a Runner.
type RunService struct {
	runner Runner
	name   string
}

// NewRunService wraps runner under name.
func NewRunService(name string, runner Runner) *RunService {
	return &RunService{runner: runner, name: name}
}

// Serve implements suture.Service. Returning before ctx is canceled counts
// as a failure so suture restarts the runner.
func (s *RunService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New(s.name + " exited unexpectedly")
	}
	return err
}

// String implements fmt.Stringer for suture's logs.
func (s *RunService) String() string {
	return s.name
}

// Janitor is a cache with expirable entries.
type Janitor interface {
	CleanupExpired() int
}

// JanitorService evicts expired cache entries on an interval.
type JanitorService struct {
	cache    Janitor
	interval time.Duration
	name     string
}

// NewJanitorService creates a JanitorService. A non-positive interval
// defaults to one minute.
func NewJanitorService(name string, cache Janitor, interval time.Duration) *JanitorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JanitorService{cache: cache, interval: interval, name: name}
}

// Serve implements suture.Service.
func (s *JanitorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.cache.CleanupExpired(); n > 0 {
				logging.Debug().Str("service", s.name).Int("evicted", n).Msg("Expired cache entries removed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *JanitorService) String() string {
	return s.name
}
