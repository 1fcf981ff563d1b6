// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
	"github.com/tomtom215/vitalsync/internal/providers"
)

// memStore is an in-memory Store with the same claim and transition
// guards as the database backends.
type memStore struct {
	mu          gosync.Mutex
	conns       map[string]*models.Connection
	jobs        map[string]*models.SyncJob
	payloads    map[string]*models.RawPayload
	metrics     map[models.MetricKey]models.NormalizedMetric
	claimDelay  time.Duration
	upsertErr   error
	statusMarks []models.ConnectionStatus
}

func newMemStore() *memStore {
	return &memStore{
		conns:    make(map[string]*models.Connection),
		jobs:     make(map[string]*models.SyncJob),
		payloads: make(map[string]*models.RawPayload),
		metrics:  make(map[models.MetricKey]models.NormalizedMetric),
	}
}

func (s *memStore) addConnection(c models.Connection) *models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ConnectionActive
	}
	s.conns[c.ID] = &c
	cp := c
	return &cp
}

func (s *memStore) job(id string) models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) metricCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics)
}

func (s *memStore) connection(id string) models.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.conns[id]
}

func (s *memStore) GetConnection(_ context.Context, id string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, database.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListSyncableConnections(_ context.Context) ([]models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Connection
	for _, c := range s.conns {
		if c.Syncable() {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) MarkConnectionStatus(_ context.Context, id string, status models.ConnectionStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return database.ErrNotFound
	}
	c.Status = status
	c.LastError = lastError
	s.statusMarks = append(s.statusMarks, status)
	return nil
}

func (s *memStore) RecordConnectionSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return database.ErrNotFound
	}
	c.LastSyncedAt = &at
	c.ConsecutiveErrors = 0
	c.LastError = ""
	return nil
}

func (s *memStore) IncrementConnectionErrors(_ context.Context, id, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return database.ErrNotFound
	}
	c.ConsecutiveErrors++
	c.LastError = lastError
	return nil
}

func (s *memStore) InsertJob(_ context.Context, j *models.SyncJob) error {
	if err := j.Window().Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = models.JobPending
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) ListClaimable(_ context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncJob
	for _, j := range s.jobs {
		due := (j.Status == models.JobPending && !j.ScheduledAt.After(now)) ||
			(j.Status == models.JobFailed && j.NextRetryAt != nil && !j.NextRetryAt.After(now))
		if due {
			out = append(out, *j)
		}
	}
	effective := func(j models.SyncJob) time.Time {
		if j.Status == models.JobFailed {
			return *j.NextRetryAt
		}
		return j.ScheduledAt
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Priority != out[b].Priority {
			return out[a].Priority > out[b].Priority
		}
		if !effective(out[a]).Equal(effective(out[b])) {
			return effective(out[a]).Before(effective(out[b]))
		}
		return out[a].ID < out[b].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ClaimJob(_ context.Context, id string, from models.JobStatus, workerID string, now time.Time) error {
	if s.claimDelay > 0 {
		time.Sleep(s.claimDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != from || (from == models.JobFailed && j.NextRetryAt == nil) ||
		(from != models.JobPending && from != models.JobFailed) {
		return database.ErrJobNotClaimable
	}
	j.Status = models.JobRunning
	j.ClaimedBy = workerID
	j.StartedAt = &now
	j.NextRetryAt = nil
	return nil
}

func (s *memStore) finish(id string, fn func(j *models.SyncJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobRunning {
		return fmt.Errorf("running job %s: %w", id, database.ErrNotFound)
	}
	fn(j)
	return nil
}

func (s *memStore) CompleteJob(_ context.Context, id string, processed int, now time.Time) error {
	return s.finish(id, func(j *models.SyncJob) {
		j.Status = models.JobCompleted
		j.ProcessedRecords = processed
		j.CompletedAt = &now
		j.ErrorCode, j.ErrorCategory, j.ErrorMessage = "", "", ""
	})
}

func (s *memStore) ScheduleRetry(_ context.Context, id string, next time.Time, f models.JobFailure, _ time.Time) error {
	return s.finish(id, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.RetryCount++
		j.NextRetryAt = &next
		j.ClaimedBy = ""
		j.ErrorCode, j.ErrorCategory, j.ErrorMessage = f.Code, f.Category, f.Message
	})
}

func (s *memStore) DeferJob(_ context.Context, id string, next time.Time, f models.JobFailure, _ time.Time) error {
	return s.finish(id, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.NextRetryAt = &next
		j.ClaimedBy = ""
		j.ErrorCode, j.ErrorCategory, j.ErrorMessage = f.Code, f.Category, f.Message
	})
}

func (s *memStore) FailJob(_ context.Context, id string, f models.JobFailure, now time.Time) error {
	return s.finish(id, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.NextRetryAt = nil
		j.CompletedAt = &now
		j.ClaimedBy = ""
		j.ErrorCode, j.ErrorCategory, j.ErrorMessage = f.Code, f.Category, f.Message
	})
}

func (s *memStore) SetJobAwaitingCredentials(_ context.Context, id string, f models.JobFailure, _ time.Time) error {
	return s.finish(id, func(j *models.SyncJob) {
		j.Status = models.JobAwaitingCredentials
		j.NextRetryAt = nil
		j.ClaimedBy = ""
		j.ErrorCode, j.ErrorCategory, j.ErrorMessage = f.Code, f.Category, f.Message
	})
}

func (s *memStore) ResumeAwaitingJobs(_ context.Context, connectionID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.ConnectionID == connectionID && j.Status == models.JobAwaitingCredentials {
			j.Status = models.JobPending
			j.ScheduledAt = now
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) ReclaimStaleJobs(_ context.Context, olderThan, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			j.Status = models.JobPending
			j.StartedAt = nil
			j.ClaimedBy = ""
			n++
		}
	}
	return n, nil
}

func (s *memStore) HasOpenJob(_ context.Context, connectionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ConnectionID != connectionID {
			continue
		}
		switch {
		case j.Status == models.JobPending, j.Status == models.JobRunning, j.Status == models.JobAwaitingCredentials:
			return true, nil
		case j.Status == models.JobFailed && j.NextRetryAt != nil:
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) InsertRawPayload(_ context.Context, p *models.RawPayload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payloads[p.ID]; ok {
		return false, nil
	}
	cp := *p
	s.payloads[p.ID] = &cp
	return true, nil
}

func (s *memStore) UpsertMetrics(_ context.Context, ms []models.NormalizedMetric) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	for i := range ms {
		s.metrics[ms[i].Key()] = ms[i]
	}
	return len(models.DedupeMetrics(ms)), nil
}

// stubProvider returns canned batches or errors in order.
type stubProvider struct {
	mu     gosync.Mutex
	name   string
	errs   []error
	batch  *providers.Batch
	calls  int
	tokens []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Pull(_ context.Context, token string, _ models.Window) (*providers.Batch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.tokens = append(p.tokens, token)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return p.batch, nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubRefresher records refresh calls and returns err.
type stubRefresher struct {
	mu    gosync.Mutex
	err   error
	calls int
}

func (r *stubRefresher) Refresh(_ context.Context, conn *models.Connection) (*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	cp := *conn
	cp.AccessToken = "refreshed"
	cp.TokenExpiresAt = nil
	return &cp, nil
}

type recordingPublisher struct {
	mu     gosync.Mutex
	events []events.MetricsIngested
}

func (p *recordingPublisher) PublishMetricsIngested(_ context.Context, e events.MetricsIngested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func glucoseBatch(n int, start time.Time) *providers.Batch {
	readings := make([]normalize.RawReading, 0, n)
	for i := 0; i < n; i++ {
		readings = append(readings, normalize.RawReading{
			Provider:  "dexcom",
			Name:      "egv",
			Value:     float64(100 + i),
			Unit:      "mg/dL",
			Timestamp: start.Add(time.Duration(i) * 5 * time.Minute),
		})
	}
	return &providers.Batch{EventType: "egvs", Raw: []byte(`{"records":[]}`), Readings: readings}
}

// recordingAuditor keeps the event names it was asked to log.
type recordingAuditor struct {
	mu     gosync.Mutex
	events []string
}

func (a *recordingAuditor) add(name string) {
	a.mu.Lock()
	a.events = append(a.events, name)
	a.mu.Unlock()
}

func (a *recordingAuditor) LogTokenRefreshed(context.Context, *models.Connection) {
	a.add("refreshed")
}

func (a *recordingAuditor) LogTokenRefreshFailed(_ context.Context, _ *models.Connection, code string) {
	a.add("refresh_failed:" + code)
}

func (a *recordingAuditor) LogConnectionExpired(_ context.Context, _ *models.Connection, code, _ string) {
	a.add("expired:" + code)
}

func (a *recordingAuditor) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}
