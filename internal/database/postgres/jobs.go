// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/models"
)

// InsertJob enqueues a job. ID, status, scheduled_at and timestamps are
// filled when empty.
func (s *Store) InsertJob(ctx context.Context, j *models.SyncJob) error {
	if err := j.Window().Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = models.JobPending
	}
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	db, cancel := s.conn(ctx)
	defer cancel()

	row := toJobRow(j)
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var row jobRow
	if err := db.Take(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	j := row.model()
	return &j, nil
}

// ListClaimable returns up to limit jobs that are due at now: pending jobs
// whose scheduled time has passed and failed jobs whose retry is due.
// Higher priority first, then oldest effective time.
func (s *Store) ListClaimable(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	now = now.UTC()
	var rows []jobRow
	err := db.Where("(status = ? AND scheduled_at <= ?) OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)",
		string(models.JobPending), now, string(models.JobFailed), now).
		Order("priority DESC").
		Order("COALESCE(next_retry_at, scheduled_at) ASC").
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
	}

	jobs := make([]models.SyncJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].model())
	}
	return jobs, nil
}

// ClaimJob atomically moves a job from the status the caller observed to
// running. It returns database.ErrJobNotClaimable when another worker got
// there first.
func (s *Store) ClaimJob(ctx context.Context, id string, from models.JobStatus, workerID string, now time.Time) error {
	if from != models.JobPending && from != models.JobFailed {
		return fmt.Errorf("claim job %s from %s: %w", id, from, database.ErrJobNotClaimable)
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&jobRow{}).
		Where("id = ? AND status = ? AND (status = ? OR next_retry_at IS NOT NULL)", id, string(from), string(models.JobPending)).
		Updates(map[string]interface{}{
			"status":        string(models.JobRunning),
			"claimed_by":    workerID,
			"started_at":    now.UTC(),
			"next_retry_at": nil,
			"updated_at":    now.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("job %s: %w", id, database.ErrJobNotClaimable)
	}
	return nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(ctx context.Context, id string, processed int, now time.Time) error {
	return s.finishJob(ctx, id, now, map[string]interface{}{
		"status":            string(models.JobCompleted),
		"processed_records": processed,
		"completed_at":      now.UTC(),
		"next_retry_at":     nil,
		"error_code":        "",
		"error_category":    "",
		"error_message":     "",
	})
}

// ScheduleRetry records a failed attempt and the time the next one is due.
func (s *Store) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error {
	return s.finishJob(ctx, id, now, withFailure(f, map[string]interface{}{
		"status":        string(models.JobFailed),
		"retry_count":   gorm.Expr("retry_count + 1"),
		"next_retry_at": nextRetryAt.UTC(),
		"claimed_by":    "",
	}))
}

// DeferJob puts a running job back in the retry queue without counting an
// attempt against it.
func (s *Store) DeferJob(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error {
	return s.finishJob(ctx, id, now, withFailure(f, map[string]interface{}{
		"status":        string(models.JobFailed),
		"next_retry_at": nextRetryAt.UTC(),
		"claimed_by":    "",
	}))
}

// FailJob marks a running job failed with no retry.
func (s *Store) FailJob(ctx context.Context, id string, f models.JobFailure, now time.Time) error {
	return s.finishJob(ctx, id, now, withFailure(f, map[string]interface{}{
		"status":        string(models.JobFailed),
		"next_retry_at": nil,
		"completed_at":  now.UTC(),
		"claimed_by":    "",
	}))
}

// SetJobAwaitingCredentials parks a running job until the user reconnects.
func (s *Store) SetJobAwaitingCredentials(ctx context.Context, id string, f models.JobFailure, now time.Time) error {
	return s.finishJob(ctx, id, now, withFailure(f, map[string]interface{}{
		"status":        string(models.JobAwaitingCredentials),
		"next_retry_at": nil,
		"claimed_by":    "",
	}))
}

// ResumeAwaitingJobs returns a connection's parked jobs to pending.
func (s *Store) ResumeAwaitingJobs(ctx context.Context, connectionID string, now time.Time) (int, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&jobRow{}).
		Where("connection_id = ? AND status = ?", connectionID, string(models.JobAwaitingCredentials)).
		Updates(map[string]interface{}{
			"status":       string(models.JobPending),
			"scheduled_at": now.UTC(),
			"started_at":   nil,
			"claimed_by":   "",
			"updated_at":   now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to resume jobs for connection %s: %w", connectionID, res.Error)
	}
	return int(res.RowsAffected), nil
}

// ReclaimStaleJobs returns jobs running since before olderThan to pending.
func (s *Store) ReclaimStaleJobs(ctx context.Context, olderThan, now time.Time) (int, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	res := db.Model(&jobRow{}).
		Where("status = ? AND started_at < ?", string(models.JobRunning), olderThan.UTC()).
		Updates(map[string]interface{}{
			"status":     string(models.JobPending),
			"started_at": nil,
			"claimed_by": "",
			"updated_at": now.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// HasOpenJob reports whether the connection has a job that will still run.
func (s *Store) HasOpenJob(ctx context.Context, connectionID string) (bool, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var n int64
	err := db.Model(&jobRow{}).
		Where("connection_id = ?", connectionID).
		Where("status IN ? OR (status = ? AND next_retry_at IS NOT NULL)",
			[]string{string(models.JobPending), string(models.JobRunning), string(models.JobAwaitingCredentials)},
			string(models.JobFailed)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check open jobs for connection %s: %w", connectionID, err)
	}
	return n > 0, nil
}

func (s *Store) finishJob(ctx context.Context, id string, now time.Time, fields map[string]interface{}) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	fields["updated_at"] = now.UTC()
	res := db.Model(&jobRow{}).
		Where("id = ? AND status = ?", id, string(models.JobRunning)).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("running job %s: %w", id, database.ErrNotFound)
	}
	return nil
}

func withFailure(f models.JobFailure, fields map[string]interface{}) map[string]interface{} {
	fields["error_code"] = f.Code
	fields["error_category"] = f.Category
	fields["error_message"] = f.Message
	return fields
}
