// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/vitalsync/internal/analytics"
	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/backup"
	"github.com/tomtom215/vitalsync/internal/breaker"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/ingest"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/providers"
)

// Store is the persistence the handlers read and write directly.
type Store interface {
	Ping(ctx context.Context) error
	CreateConnection(ctx context.Context, c *models.Connection) error
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	ListConnections(ctx context.Context, userID string) ([]models.Connection, error)
	UpdateConnectionCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	RevokeConnection(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
}

// Scheduler enqueues sync jobs.
type Scheduler interface {
	EnqueueWithPriority(ctx context.Context, connectionID string, window *models.Window, fullBackfill bool, priority int) (string, error)
	ResumeConnection(ctx context.Context, connectionID string) (int, error)
}

// Ingester processes webhook deliveries.
type Ingester interface {
	Ingest(ctx context.Context, provider string, body []byte, signature, deliveryHeader string) (*ingest.Outcome, error)
	Replay(ctx context.Context, payloadID string) (*ingest.Outcome, error)
}

// Analytics serves cached analytics.
type Analytics interface {
	Summary(ctx context.Context, userID, metric string, days int) (*analytics.Summary, error)
	TimeInRange(ctx context.Context, userID, metric string, days int, low, high float64) (*analytics.RangeReport, error)
	Events(ctx context.Context, userID, metric string, days int) (*analytics.EventReport, error)
	Correlation(ctx context.Context, userID, metricA, metricB string, days int) (*analytics.CorrelationReport, error)
}

// Breakers exposes circuit breaker state.
type Breakers interface {
	State(key string) breaker.Snapshot
	States() []breaker.Snapshot
}

// ProviderLookup resolves registered providers.
type ProviderLookup interface {
	Lookup(name string) (providers.Provider, error)
}

// AuditTrail records and lists connection lifecycle events.
type AuditTrail interface {
	LogConnectionCreated(ctx context.Context, conn *models.Connection, sourceIP string)
	LogCredentialsUpdated(ctx context.Context, conn *models.Connection, resumed int, sourceIP string)
	LogConnectionRevoked(ctx context.Context, conn *models.Connection, sourceIP string)
	LogPayloadReplayed(ctx context.Context, payloadID, userID string, stored int, sourceIP string)
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
}

// Backups manages database snapshots.
type Backups interface {
	Create(ctx context.Context, trigger backup.Trigger) (*backup.Backup, error)
	List() []backup.Backup
	Get(id string) (*backup.Backup, error)
	Verify(id string) error
	Delete(id string) error
}

// StreamHub serves live per-user event streams.
type StreamHub interface {
	ServeUser(w http.ResponseWriter, r *http.Request, userID string)
}

// Dependencies are the collaborators of a Handler. Audit, Stream and
// Backups may be nil.
type Dependencies struct {
	Store     Store
	Scheduler Scheduler
	Ingest    Ingester
	Analytics Analytics
	Breakers  Breakers
	Providers ProviderLookup
	Audit     AuditTrail
	Stream    StreamHub
	Backups   Backups
	Webhook   config.WebhookConfig
}

// Handler holds the HTTP handlers.
type Handler struct {
	store     Store
	scheduler Scheduler
	ingest    Ingester
	analytics Analytics
	breakers  Breakers
	providers ProviderLookup
	audit     AuditTrail
	stream    StreamHub
	backups   Backups
	webhook   config.WebhookConfig
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps Dependencies) *Handler {
	wh := deps.Webhook
	if wh.MaxBodyBytes <= 0 {
		wh.MaxBodyBytes = 1 << 20
	}
	if wh.SignatureHeader == "" {
		wh.SignatureHeader = "X-Provider-Signature"
	}
	if wh.DeliveryHeader == "" {
		wh.DeliveryHeader = "X-Provider-Delivery"
	}
	if wh.RateLimitReqs <= 0 {
		wh.RateLimitReqs = 600
	}
	if wh.RateLimitWindow <= 0 {
		wh.RateLimitWindow = time.Minute
	}
	trail := deps.Audit
	if trail == nil {
		trail = audit.Disabled()
	}
	return &Handler{
		store:     deps.Store,
		scheduler: deps.Scheduler,
		ingest:    deps.Ingest,
		analytics: deps.Analytics,
		breakers:  deps.Breakers,
		providers: deps.Providers,
		audit:     trail,
		stream:    deps.Stream,
		backups:   deps.Backups,
		webhook:   wh,
		startTime: time.Now(),
	}
}
