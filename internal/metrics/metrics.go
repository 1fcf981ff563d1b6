// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package metrics holds the Prometheus collectors for Vitalsync.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync jobs

	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_sync_jobs_total",
			Help: "Sync jobs finished, by provider and resulting status",
		},
		[]string{"provider", "status"}, // completed, retry, failed, awaiting_credentials
	)

	SyncJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsync_sync_job_duration_seconds",
			Help:    "Wall time of one sync job execution",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_sync_records_processed_total",
			Help: "Normalized metrics written by pull sync",
		},
		[]string{"provider"},
	)

	SyncRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_sync_retries_total",
			Help: "Retries scheduled, by provider and error category",
		},
		[]string{"provider", "category"},
	)

	StaleJobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_stale_jobs_reclaimed_total",
			Help: "Running jobs returned to pending by the stale sweep",
		},
	)

	// Ingestion

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_webhook_deliveries_total",
			Help: "Webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"}, // accepted, bad_signature, unknown_user, invalid, error
	)

	MetricsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_metrics_upserted_total",
			Help: "Normalized metrics upserted, by provider and source",
		},
		[]string{"provider", "source"},
	)

	QualityRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_metric_quality_rejections_total",
			Help: "Readings flagged as anomalies by range validation",
		},
		[]string{"metric_type"},
	)

	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_errors_classified_total",
			Help: "Errors passed through the classifier",
		},
		[]string{"category", "code"},
	)

	// TokenRefreshes counts OAuth refresh-token grants.
	// Labels:
	//   - outcome: "success", "failure"
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_token_refreshes_total",
			Help: "OAuth refresh-token grants by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// Circuit breakers

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitalsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitalsync_circuit_breaker_consecutive_failures",
			Help: "Current consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Cache

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_cache_hits_total",
			Help: "Result cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_cache_misses_total",
			Help: "Result cache misses",
		},
		[]string{"cache"},
	)

	// Audit

	AuditEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_audit_events_total",
			Help: "Audit events accepted for persistence",
		},
		[]string{"type"},
	)

	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_audit_events_dropped_total",
			Help: "Audit events dropped because the write buffer was full",
		},
	)

	// Event outbox

	WALWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_wal_writes_total",
			Help: "Events written to the outbox before publishing",
		},
	)

	WALRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_wal_retries_total",
			Help: "Failed publish attempts recorded in the outbox",
		},
	)

	WALDeadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_wal_dead_lettered_total",
			Help: "Outbox events that exhausted their publish attempts",
		},
	)

	WALPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsync_wal_pending",
			Help: "Outbox events waiting to be published",
		},
	)

	// Backups

	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_backups_total",
			Help: "Database backups by outcome",
		},
		[]string{"trigger", "status"},
	)

	BackupLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsync_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup",
		},
	)

	// Live stream

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalsync_stream_clients",
			Help: "Connected websocket stream clients",
		},
	)

	StreamMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsync_stream_messages_dropped_total",
			Help: "Stream messages dropped because a buffer was full",
		},
	)

	// API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsync_api_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsync_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordSyncJob records one finished job execution.
func RecordSyncJob(provider, status string, duration time.Duration, records int) {
	SyncJobsTotal.WithLabelValues(provider, status).Inc()
	SyncJobDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if records > 0 {
		SyncRecordsProcessed.WithLabelValues(provider).Add(float64(records))
	}
}

// RecordAPIRequest records an HTTP request.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
		return
	}
	CacheMisses.WithLabelValues(cache).Inc()
}
