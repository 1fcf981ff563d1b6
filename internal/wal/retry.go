// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package wal

import (
	"context"
	"time"

	"github.com/tomtom215/vitalsync/internal/logging"
)

// Publisher sends a WAL entry to the broker.
type Publisher interface {
	Republish(ctx context.Context, entry *Entry) error
}

// Log is the part of BadgerWAL the Retrier needs.
type Log interface {
	Pending(ctx context.Context, limit int) ([]*Entry, error)
	Confirm(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error) (int, error)
	DeadLetter(ctx context.Context, id string) error
	Stats() Stats
	RunGC() error
}

// RetrierConfig configures a Retrier.
type RetrierConfig struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
	GCInterval  time.Duration
}

// Retrier republishes pending entries on startup and then on every
// interval. Run blocks, so it fits a supervisor service.
type Retrier struct {
	wal       Log
	publisher Publisher
	cfg       RetrierConfig
}

// RetryResult counts the outcome of one pass.
type RetryResult struct {
	Published    int
	Failed       int
	DeadLettered int
}

// NewRetrier creates a Retrier.
func NewRetrier(wal Log, publisher Publisher, cfg RetrierConfig) *Retrier {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Retrier{wal: wal, publisher: publisher, cfg: cfg}
}

// Run recovers leftover entries, then retries until ctx is canceled.
func (r *Retrier) Run(ctx context.Context) error {
	if res := r.RetryPending(ctx); res.Published+res.Failed+res.DeadLettered > 0 {
		logging.Info().
			Int("published", res.Published).
			Int("failed", res.Failed).
			Int("dead_lettered", res.DeadLettered).
			Msg("WAL recovery complete")
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var gc <-chan time.Time
	if r.cfg.GCInterval > 0 {
		gcTicker := time.NewTicker(r.cfg.GCInterval)
		defer gcTicker.Stop()
		gc = gcTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := r.RetryPending(ctx)
			if res.Published+res.Failed+res.DeadLettered > 0 {
				logging.Info().
					Int("published", res.Published).
					Int("failed", res.Failed).
					Int("dead_lettered", res.DeadLettered).
					Msg("WAL retry complete")
			}
		case <-gc:
			if err := r.wal.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("WAL GC failed")
			}
		}
	}
}

// RetryPending makes one pass over the pending entries.
func (r *Retrier) RetryPending(ctx context.Context) RetryResult {
	var res RetryResult
	defer r.wal.Stats()

	entries, err := r.wal.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to list pending entries")
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return res
		}
		r.process(ctx, entry, &res)
	}
	return res
}

func (r *Retrier) process(ctx context.Context, entry *Entry, res *RetryResult) {
	log := logging.Ctx(ctx).With().Str("entry_id", entry.ID).Str("topic", entry.Topic).Logger()

	if err := r.publisher.Republish(ctx, entry); err != nil {
		attempts, rerr := r.wal.RecordFailure(ctx, entry.ID, err)
		if rerr != nil {
			log.Error().Err(rerr).Msg("WAL retry: failed to record attempt")
			return
		}
		if attempts < r.cfg.MaxAttempts {
			res.Failed++
			log.Debug().Err(err).Int("attempts", attempts).Msg("WAL retry: publish failed")
			return
		}
		if derr := r.wal.DeadLetter(ctx, entry.ID); derr != nil {
			log.Error().Err(derr).Msg("WAL retry: failed to dead-letter entry")
			return
		}
		res.DeadLettered++
		log.Warn().Err(err).Int("attempts", attempts).Msg("WAL entry exceeded max attempts, dead-lettered")
		return
	}

	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		log.Warn().Err(err).Msg("WAL retry: published but failed to confirm")
	}
	res.Published++
}
