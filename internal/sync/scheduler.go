// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/models"
)

// ErrConnectionRevoked is returned when enqueueing for a revoked connection.
var ErrConnectionRevoked = errors.New("connection is revoked")

// JobRunner executes one claimed job.
type JobRunner interface {
	Execute(ctx context.Context, job *models.SyncJob) (Outcome, error)
}

// Scheduler enqueues sync jobs and runs the claim loop.
type Scheduler struct {
	store  Store
	runner JobRunner
	cfg    config.SyncConfig
	now    func() time.Time

	running  bool
	mu       sync.Mutex
	tickMu   sync.Mutex // one Tick at a time per scheduler
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero values in cfg fall back to one
// worker, a batch of one and a 30 second tick.
func NewScheduler(store Store, runner JobRunner, cfg config.SyncConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 24 * time.Hour
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "vitalsync"
	}

	logging.Info().
		Str("worker_id", cfg.WorkerID).
		Int("workers", cfg.Workers).
		Int("batch_size", cfg.BatchSize).
		Dur("tick_interval", cfg.TickInterval).
		Msg("Sync scheduler config loaded")

	return &Scheduler{
		store:    store,
		runner:   runner,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		stopChan: make(chan struct{}),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Enqueue adds a manually requested job. A nil window selects the default
// window, or the backfill window when fullBackfill is set.
func (s *Scheduler) Enqueue(ctx context.Context, connectionID string, window *models.Window, fullBackfill bool) (string, error) {
	return s.EnqueueWithPriority(ctx, connectionID, window, fullBackfill, models.PriorityManual)
}

// EnqueueWithPriority adds a job with an explicit priority.
func (s *Scheduler) EnqueueWithPriority(ctx context.Context, connectionID string, window *models.Window, fullBackfill bool, priority int) (string, error) {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return "", fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	if conn.Status == models.ConnectionRevoked {
		return "", fmt.Errorf("enqueue for connection %s: %w", connectionID, ErrConnectionRevoked)
	}

	now := s.now()
	w := s.windowFor(conn, window, fullBackfill, now)
	if err := w.Validate(); err != nil {
		return "", fmt.Errorf("enqueue for connection %s: %w", connectionID, err)
	}

	job := &models.SyncJob{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Provider:     conn.Provider,
		WindowStart:  w.Start,
		WindowEnd:    w.End,
		FullBackfill: fullBackfill,
		Priority:     priority,
		Status:       models.JobPending,
		MaxRetries:   s.cfg.DefaultMaxRetries,
		ScheduledAt:  now,
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue for connection %s: %w", connectionID, err)
	}

	logging.Ctx(ctx).Info().
		Str("job_id", job.ID).
		Str("connection_id", conn.ID).
		Str("provider", conn.Provider).
		Int("priority", priority).
		Bool("full_backfill", fullBackfill).
		Time("window_start", w.Start).
		Time("window_end", w.End).
		Msg("Sync job enqueued")
	return job.ID, nil
}

// windowFor picks the pull range for a new job.
func (s *Scheduler) windowFor(conn *models.Connection, requested *models.Window, fullBackfill bool, now time.Time) models.Window {
	if requested != nil {
		return models.Window{Start: requested.Start.UTC(), End: requested.End.UTC()}
	}
	switch {
	case fullBackfill:
		days := s.cfg.BackfillDays
		if days <= 0 {
			days = 30
		}
		return models.Window{Start: now.AddDate(0, 0, -days), End: now}
	case conn.LastSyncedAt != nil && conn.LastSyncedAt.Before(now):
		return models.Window{Start: conn.LastSyncedAt.UTC(), End: now}
	default:
		return models.Window{Start: now.Add(-s.cfg.DefaultWindow), End: now}
	}
}

// ResumeConnection returns a reauthorized connection's parked jobs to
// pending.
func (s *Scheduler) ResumeConnection(ctx context.Context, connectionID string) (int, error) {
	n, err := s.store.ResumeAwaitingJobs(ctx, connectionID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Str("connection_id", connectionID).Int("jobs", n).Msg("Resumed jobs awaiting credentials")
	}
	return n, nil
}

// Tick claims up to batch_size due jobs and runs them on the worker pool.
// It returns once every claimed job has finished and reports how many
// jobs it claimed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.now()
	candidates, err := s.store.ListClaimable(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list claimable jobs: %w", err)
	}

	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	claimed := 0

	for i := range candidates {
		job := candidates[i]
		if err := s.store.ClaimJob(ctx, job.ID, job.Status, s.cfg.WorkerID, s.now()); err != nil {
			if !errors.Is(err, database.ErrJobNotClaimable) {
				logging.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to claim sync job")
			}
			continue
		}
		claimed++

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Claimed but not started; the sweeper returns it to pending.
			wg.Wait()
			return claimed, ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.run(ctx, &job)
		}()
	}

	wg.Wait()
	return claimed, nil
}

func (s *Scheduler) run(ctx context.Context, job *models.SyncJob) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("job_id", job.ID).Interface("panic", r).Msg("Sync job panicked")
		}
	}()

	outcome, err := s.runner.Execute(ctx, job)
	if err != nil {
		logging.Error().Err(err).Str("job_id", job.ID).Str("outcome", string(outcome)).Msg("Failed to record sync job outcome")
	}
}

// Start begins the periodic claim loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sync scheduler is already running")
	}
	logging.Info().Msg("Starting sync scheduler...")
	s.running = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, stop)
	return nil
}

// Stop ends the claim loop and waits for in-flight jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sync scheduler is not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	logging.Info().Msg("Stopping sync scheduler...")
	s.wg.Wait()
	logging.Info().Msg("Sync scheduler stopped")
	return nil
}

// Run starts the scheduler and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tickOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	claimed, err := s.Tick(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Sync tick failed")
		return
	}
	if claimed > 0 {
		logging.Debug().Int("claimed", claimed).Msg("Sync tick finished")
	}
}
