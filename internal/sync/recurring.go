// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/models"
)

// DefaultRecurringSchedule enqueues due connections every 15 minutes.
const DefaultRecurringSchedule = "0 */15 * * * *"

// Recurring enqueues scheduled jobs on a cron schedule.
type Recurring struct {
	scheduler *Scheduler
	store     Store
	spec      string
}

// NewRecurring creates a recurring enqueuer. spec is a six-field cron
// expression with seconds, or a descriptor such as "@every 15m".
func NewRecurring(scheduler *Scheduler, store Store, spec string) (*Recurring, error) {
	if spec == "" {
		spec = DefaultRecurringSchedule
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid recurring schedule %q: %w", spec, err)
	}
	return &Recurring{scheduler: scheduler, store: store, spec: spec}, nil
}

// EnqueueDue enqueues a job for every active connection that has none
// open. Connections that never synced get a full backfill at initial
// priority. It returns the number of jobs enqueued.
func (r *Recurring) EnqueueDue(ctx context.Context) (int, error) {
	conns, err := r.store.ListSyncableConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("list syncable connections: %w", err)
	}

	enqueued := 0
	for i := range conns {
		conn := &conns[i]
		open, err := r.store.HasOpenJob(ctx, conn.ID)
		if err != nil {
			logging.Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to check open jobs")
			continue
		}
		if open {
			continue
		}

		priority, backfill := models.PriorityScheduled, false
		if conn.LastSyncedAt == nil {
			priority, backfill = models.PriorityInitial, true
		}
		if _, err := r.scheduler.EnqueueWithPriority(ctx, conn.ID, nil, backfill, priority); err != nil {
			logging.Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to enqueue recurring sync")
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		logging.Info().Int("enqueued", enqueued).Int("connections", len(conns)).Msg("Recurring sync enqueued")
	}
	return enqueued, nil
}

// Run runs the cron schedule until ctx is canceled.
func (r *Recurring) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.spec, func() {
		if _, err := r.EnqueueDue(ctx); err != nil {
			logging.Error().Err(err).Msg("Recurring enqueue failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule recurring enqueue: %w", err)
	}

	logging.Info().Str("schedule", r.spec).Msg("Recurring sync scheduled")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger routes cron's logging to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
