// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package models

import (
	"errors"
	"time"
)

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobRunning             JobStatus = "running"
	JobCompleted           JobStatus = "completed"
	JobFailed              JobStatus = "failed"
	JobAwaitingCredentials JobStatus = "awaiting_credentials"
)

// Job priorities. Higher values are claimed first.
const (
	PriorityScheduled = 0
	PriorityInitial   = 5
	PriorityManual    = 10
)

// Window is a half-open time range [Start, End) requested from a provider.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ErrInvalidWindow is returned by Window.Validate.
var ErrInvalidWindow = errors.New("window end must be after start")

// Validate checks that the window is non-empty.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// SyncJob is one scheduled or ad-hoc pull of a time window for a connection.
//
// A failed job with NextRetryAt set is waiting for a retry. A failed job
// without it is terminal.
type SyncJob struct {
	ID               string     `json:"id"`
	ConnectionID     string     `json:"connection_id"`
	UserID           string     `json:"user_id"`
	Provider         string     `json:"provider"`
	WindowStart      time.Time  `json:"window_start"`
	WindowEnd        time.Time  `json:"window_end"`
	FullBackfill     bool       `json:"full_backfill"`
	Priority         int        `json:"priority"`
	Status           JobStatus  `json:"status"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessedRecords int        `json:"processed_records"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorCategory    string     `json:"error_category,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ClaimedBy        string     `json:"claimed_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Window returns the requested range.
func (j *SyncJob) Window() Window {
	return Window{Start: j.WindowStart, End: j.WindowEnd}
}

// AwaitingRetry reports whether the job failed and has a retry scheduled.
func (j *SyncJob) AwaitingRetry() bool {
	return j.Status == JobFailed && j.NextRetryAt != nil
}

// Terminal reports whether the job will never run again on its own.
func (j *SyncJob) Terminal() bool {
	return j.Status == JobCompleted || (j.Status == JobFailed && j.NextRetryAt == nil)
}

// JobFailure carries the classified outcome written to a failed job.
type JobFailure struct {
	Code     string
	Category string
	Message  string
}
