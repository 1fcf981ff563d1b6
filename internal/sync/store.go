// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"time"

	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/providers"
)

// JobStore is the job queue. Both database backends implement it.
type JobStore interface {
	InsertJob(ctx context.Context, j *models.SyncJob) error
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	ListClaimable(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error)
	ClaimJob(ctx context.Context, id string, from models.JobStatus, workerID string, now time.Time) error
	CompleteJob(ctx context.Context, id string, processed int, now time.Time) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error
	DeferJob(ctx context.Context, id string, nextRetryAt time.Time, f models.JobFailure, now time.Time) error
	FailJob(ctx context.Context, id string, f models.JobFailure, now time.Time) error
	SetJobAwaitingCredentials(ctx context.Context, id string, f models.JobFailure, now time.Time) error
	ResumeAwaitingJobs(ctx context.Context, connectionID string, now time.Time) (int, error)
	ReclaimStaleJobs(ctx context.Context, olderThan, now time.Time) (int, error)
	HasOpenJob(ctx context.Context, connectionID string) (bool, error)
}

// ConnectionStore reads and updates provider connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	ListSyncableConnections(ctx context.Context) ([]models.Connection, error)
	MarkConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error
	RecordConnectionSuccess(ctx context.Context, id string, at time.Time) error
	IncrementConnectionErrors(ctx context.Context, id, lastError string) error
}

// DataStore persists pulled payloads and the metrics derived from them.
type DataStore interface {
	InsertRawPayload(ctx context.Context, p *models.RawPayload) (bool, error)
	UpsertMetrics(ctx context.Context, ms []models.NormalizedMetric) (int, error)
}

// Store is everything the sync engine needs from persistence.
type Store interface {
	JobStore
	ConnectionStore
	DataStore
}

// ProviderLookup resolves a provider client by name.
type ProviderLookup interface {
	Lookup(name string) (providers.Provider, error)
}

// CredentialRefresher renews an expired access token.
type CredentialRefresher interface {
	Refresh(ctx context.Context, conn *models.Connection) (*models.Connection, error)
}

// AuditRecorder records credential changes the executor makes.
type AuditRecorder interface {
	LogTokenRefreshed(ctx context.Context, conn *models.Connection)
	LogTokenRefreshFailed(ctx context.Context, conn *models.Connection, code string)
	LogConnectionExpired(ctx context.Context, conn *models.Connection, code, reason string)
}

// EventPublisher announces newly stored metrics.
type EventPublisher interface {
	PublishMetricsIngested(ctx context.Context, e events.MetricsIngested) error
}
