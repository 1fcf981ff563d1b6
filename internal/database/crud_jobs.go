// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/models"
)

const jobColumns = `id, connection_id, user_id, provider, window_start, window_end, full_backfill,
	priority, status, retry_count, max_retries, scheduled_at, next_retry_at, started_at,
	completed_at, processed_records, error_code, error_category, error_message, claimed_by,
	created_at, updated_at`

// InsertJob enqueues a job. ID, status, scheduled_at and timestamps are
// filled when empty.
func (db *DB) InsertJob(ctx context.Context, j *models.SyncJob) error {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

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

	_, err := db.conn.ExecContext(ctx, `INSERT INTO sync_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ConnectionID, j.UserID, j.Provider, j.WindowStart.UTC(), j.WindowEnd.UTC(), j.FullBackfill,
		j.Priority, string(j.Status), j.RetryCount, j.MaxRetries, j.ScheduledAt.UTC(), nullTime(j.NextRetryAt),
		nullTime(j.StartedAt), nullTime(j.CompletedAt), j.ProcessedRecords, j.ErrorCode, j.ErrorCategory,
		j.ErrorMessage, j.ClaimedBy, j.CreatedAt.UTC(), j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with id.
func (db *DB) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// ListClaimable returns up to limit jobs that may run at now: pending jobs
// whose scheduled time has come and failed jobs whose retry is due. Higher
// priority first, then the earliest effective time.
func (db *DB) ListClaimable(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	now = now.UTC()
	rows, err := db.conn.QueryContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs
		WHERE (status = ? AND scheduled_at <= ?)
		   OR (status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
		ORDER BY priority DESC,
		         CASE WHEN status = ? THEN next_retry_at ELSE scheduled_at END ASC,
		         id ASC
		LIMIT ?`,
		string(models.JobPending), now, string(models.JobFailed), now, string(models.JobFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claimable jobs: %w", err)
	}
	defer closeWithLog(rows, "job rows")

	var jobs []models.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ClaimJob atomically moves a job from the status the caller observed to
// running. A failed job is only claimable while a retry is scheduled. It
// returns ErrJobNotClaimable when another worker got there first.
func (db *DB) ClaimJob(ctx context.Context, id string, from models.JobStatus, workerID string, now time.Time) error {
	if from != models.JobPending && from != models.JobFailed {
		return fmt.Errorf("claim job %s from %s: %w", id, from, ErrJobNotClaimable)
	}

	affected, err := db.execJob(ctx, `UPDATE sync_jobs SET
		status = ?, claimed_by = ?, started_at = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND (status = ? OR next_retry_at IS NOT NULL)`,
		string(models.JobRunning), workerID, now.UTC(), now.UTC(), id, string(from), string(models.JobPending))
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	if affected != 1 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotClaimable)
	}
	return nil
}

// CompleteJob marks a running job completed.
func (db *DB) CompleteJob(ctx context.Context, id string, processed int, now time.Time) error {
	return db.finishJob(ctx, id, `UPDATE sync_jobs SET
		status = ?, processed_records = ?, completed_at = ?, next_retry_at = NULL,
		error_code = '', error_category = '', error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobCompleted), processed, now.UTC(), now.UTC(), id, string(models.JobRunning))
}

// ScheduleRetry records a failed attempt and the time the next one is due.
// The job stays failed with next_retry_at set until it is claimed again.
func (db *DB) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error {
	return db.finishJob(ctx, id, `UPDATE sync_jobs SET
		status = ?, retry_count = retry_count + 1, next_retry_at = ?, claimed_by = '',
		error_code = ?, error_category = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobFailed), nextRetryAt.UTC(), f.Code, f.Category, f.Message, now.UTC(),
		id, string(models.JobRunning))
}

// DeferJob puts a running job back in the retry queue without counting an
// attempt against it.
func (db *DB) DeferJob(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error {
	return db.finishJob(ctx, id, `UPDATE sync_jobs SET
		status = ?, next_retry_at = ?, claimed_by = '',
		error_code = ?, error_category = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobFailed), nextRetryAt.UTC(), f.Code, f.Category, f.Message, now.UTC(),
		id, string(models.JobRunning))
}

// FailJob marks a running job failed with no retry.
func (db *DB) FailJob(ctx context.Context, id string, f models.JobFailure, now time.Time) error {
	return db.finishJob(ctx, id, `UPDATE sync_jobs SET
		status = ?, next_retry_at = NULL, completed_at = ?, claimed_by = '',
		error_code = ?, error_category = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobFailed), now.UTC(), f.Code, f.Category, f.Message, now.UTC(),
		id, string(models.JobRunning))
}

// SetJobAwaitingCredentials parks a running job until the user reconnects.
func (db *DB) SetJobAwaitingCredentials(ctx context.Context, id string, f models.JobFailure, now time.Time) error {
	return db.finishJob(ctx, id, `UPDATE sync_jobs SET
		status = ?, next_retry_at = NULL, claimed_by = '',
		error_code = ?, error_category = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobAwaitingCredentials), f.Code, f.Category, f.Message, now.UTC(),
		id, string(models.JobRunning))
}

// ResumeAwaitingJobs returns a connection's parked jobs to pending and
// reports how many were resumed.
func (db *DB) ResumeAwaitingJobs(ctx context.Context, connectionID string, now time.Time) (int, error) {
	affected, err := db.execJob(ctx, `UPDATE sync_jobs SET
		status = ?, scheduled_at = ?, started_at = NULL, claimed_by = '', updated_at = ?
		WHERE connection_id = ? AND status = ?`,
		string(models.JobPending), now.UTC(), now.UTC(), connectionID, string(models.JobAwaitingCredentials))
	if err != nil {
		return 0, fmt.Errorf("failed to resume jobs for connection %s: %w", connectionID, err)
	}
	return int(affected), nil
}

// ReclaimStaleJobs returns jobs that have been running since before
// olderThan to pending. Their worker is presumed dead.
func (db *DB) ReclaimStaleJobs(ctx context.Context, olderThan, now time.Time) (int, error) {
	affected, err := db.execJob(ctx, `UPDATE sync_jobs SET
		status = ?, started_at = NULL, claimed_by = '', updated_at = ?
		WHERE status = ? AND started_at < ?`,
		string(models.JobPending), now.UTC(), string(models.JobRunning), olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return int(affected), nil
}

// HasOpenJob reports whether the connection has a job that will still run:
// pending, running, awaiting credentials, or failed with a retry scheduled.
func (db *DB) HasOpenJob(ctx context.Context, connectionID string) (bool, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_jobs
		WHERE connection_id = ?
		  AND (status IN (?, ?, ?) OR (status = ? AND next_retry_at IS NOT NULL))`,
		connectionID, string(models.JobPending), string(models.JobRunning), string(models.JobAwaitingCredentials),
		string(models.JobFailed)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check open jobs for connection %s: %w", connectionID, err)
	}
	return n > 0, nil
}

func (db *DB) finishJob(ctx context.Context, id, query string, args ...interface{}) error {
	affected, err := db.execJob(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("running job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) execJob(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var affected int64
	err := withConflictRetry(ctx, func() error {
		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		j                                   models.SyncJob
		status                              string
		nextRetryAt, startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.ConnectionID, &j.UserID, &j.Provider, &j.WindowStart, &j.WindowEnd, &j.FullBackfill,
		&j.Priority, &status, &j.RetryCount, &j.MaxRetries, &j.ScheduledAt, &nextRetryAt, &startedAt,
		&completedAt, &j.ProcessedRecords, &j.ErrorCode, &j.ErrorCategory, &j.ErrorMessage, &j.ClaimedBy,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	j.Status = models.JobStatus(status)
	j.NextRetryAt = timePtr(nextRetryAt)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.WindowStart = j.WindowStart.UTC()
	j.WindowEnd = j.WindowEnd.UTC()
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}
