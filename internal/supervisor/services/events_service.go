// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/logging"
)

// Subscriber consumes MetricsIngested events until ctx is canceled.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(context.Context, events.MetricsIngested) error) error
}

// Invalidator drops cached results for a user.
type Invalidator interface {
	InvalidateUser(userID string) int
}

// Notifier is told about every MetricsIngested event after the cache is
// invalidated.
type Notifier interface {
	NotifyMetricsIngested(e events.MetricsIngested)
}

// CacheInvalidationService clears a user's cached analytics whenever new
// metrics are stored for them, then passes the event on to any notifiers.
type CacheInvalidationService struct {
	subscriber  Subscriber
	invalidator Invalidator
	notifiers   []Notifier
	name        string
}

// NewCacheInvalidationService creates the subscriber service.
func NewCacheInvalidationService(subscriber Subscriber, invalidator Invalidator) *CacheInvalidationService {
	return &CacheInvalidationService{
		subscriber:  subscriber,
		invalidator: invalidator,
		name:        "metrics-ingested-subscriber",
	}
}

// AddNotifier registers n. Call before the service starts.
func (s *CacheInvalidationService) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// Serve implements suture.Service.
func (s *CacheInvalidationService) Serve(ctx context.Context) error {
	err := s.subscriber.Subscribe(ctx, s.handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("metrics subscriber: %w", err)
	}
	return fmt.Errorf("metrics subscriber: subscription closed")
}

func (s *CacheInvalidationService) handle(ctx context.Context, e events.MetricsIngested) error {
	n := s.invalidator.InvalidateUser(e.UserID)
	logging.Ctx(ctx).Debug().
		Str("user_id", e.UserID).
		Str("provider", e.Provider).
		Int("count", e.Count).
		Int("invalidated", n).
		Msg("Metrics ingested")
	for _, n := range s.notifiers {
		n.NotifyMetricsIngested(e)
	}
	return nil
}

// String implements fmt.Stringer for suture's logs.
func (s *CacheInvalidationService) String() string {
	return s.name
}
