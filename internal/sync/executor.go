// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/vitalsync/internal/breaker"
	"github.com/tomtom215/vitalsync/internal/classify"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
	"github.com/tomtom215/vitalsync/internal/providers"
)

// Outcome is how one execution of a job ended.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeRetry               Outcome = "retry"
	OutcomeFailed              Outcome = "failed"
	OutcomeAwaitingCredentials Outcome = "awaiting_credentials"
)

var (
	errConnectionRevoked = errors.New("connection has been revoked")
	errConnectionBroken  = errors.New("connection is in error state")
	errConnectionExpired = errors.New("connection is waiting for the user to reconnect")
	errTokenExpired      = errors.New("access token has expired")
)

// Executor runs claimed jobs.
type Executor struct {
	store     Store
	providers ProviderLookup
	breakers  *breaker.Registry
	refresher CredentialRefresher
	publisher EventPublisher
	audit     AuditRecorder
	now       func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewExecutor creates an executor. Token refresh and event publishing are
// off until SetRefresher and SetPublisher are called.
func NewExecutor(store Store, lookup ProviderLookup, breakers *breaker.Registry) *Executor {
	return &Executor{
		store:     store,
		providers: lookup,
		breakers:  breakers,
		now:       func() time.Time { return time.Now().UTC() },
		rnd:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // backoff jitter
	}
}

// SetRefresher enables credential refresh on TOKEN_EXPIRED.
func (e *Executor) SetRefresher(r CredentialRefresher) {
	e.refresher = r
}

// SetPublisher enables metrics.ingested events after successful pulls.
func (e *Executor) SetPublisher(p EventPublisher) {
	e.publisher = p
}

// SetAuditor records refreshes and expired connections.
func (e *Executor) SetAuditor(a AuditRecorder) {
	e.audit = a
}

// SetClock replaces the time source.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// SetRand replaces the jitter source.
func (e *Executor) SetRand(r *rand.Rand) {
	e.rndMu.Lock()
	e.rnd = r
	e.rndMu.Unlock()
}

// Execute runs a job the caller has already claimed. Failures of the job
// itself are recorded on the job and reported through the Outcome; the
// returned error is non-nil only when that record could not be written.
func (e *Executor) Execute(ctx context.Context, job *models.SyncJob) (Outcome, error) {
	start := time.Now()
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	ctx = logging.ContextWithJobID(ctx, job.ID)

	logging.Ctx(ctx).Debug().
		Str("provider", job.Provider).
		Str("connection_id", job.ConnectionID).
		Time("window_start", job.WindowStart).
		Time("window_end", job.WindowEnd).
		Int("attempt", job.RetryCount).
		Msg("Executing sync job")

	conn, err := e.store.GetConnection(ctx, job.ConnectionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			err = classify.New(classify.CodeMissingConfiguration, job.Provider, err)
		}
		return e.handleFailure(ctx, job, nil, err, start)
	}

	if conn.Status == models.ConnectionExpired {
		return e.park(ctx, job, classify.New(classify.CodeTokenInvalid, job.Provider, errConnectionExpired), start)
	}

	processed, err := e.pull(ctx, job, conn)
	if err != nil {
		return e.handleFailure(ctx, job, conn, err, start)
	}
	return e.complete(ctx, job, conn, processed, start)
}

// pull fetches the job's window and stores it. It returns the number of
// metrics written.
func (e *Executor) pull(ctx context.Context, job *models.SyncJob, conn *models.Connection) (int, error) {
	switch conn.Status {
	case models.ConnectionRevoked:
		return 0, classify.New(classify.CodeMissingConfiguration, job.Provider, errConnectionRevoked)
	case models.ConnectionError:
		return 0, classify.New(classify.CodeInsufficientScope, job.Provider, fmt.Errorf("%w: %s", errConnectionBroken, conn.LastError))
	}
	if conn.TokenExpired(e.now()) {
		return 0, classify.New(classify.CodeTokenExpired, job.Provider, errTokenExpired)
	}

	p, err := e.providers.Lookup(job.Provider)
	if err != nil {
		return 0, classify.New(classify.CodeMissingConfiguration, job.Provider, err)
	}

	batch, err := breaker.Call(ctx, e.breakers, job.Provider, func(ctx context.Context) (*providers.Batch, error) {
		return p.Pull(ctx, conn.AccessToken, job.Window())
	})
	if err != nil {
		return 0, err
	}

	now := e.now()
	payload := &models.RawPayload{
		ID:             fmt.Sprintf("pull:%s:%d", job.ID, job.RetryCount),
		Provider:       job.Provider,
		UserID:         job.UserID,
		ConnectionID:   conn.ID,
		Source:         models.SourcePull,
		EventType:      batch.EventType,
		SignatureValid: true,
		Body:           batch.Raw,
		ReceivedAt:     now,
	}
	if _, err := e.store.InsertRawPayload(ctx, payload); err != nil {
		return 0, classify.New(classify.CodeInternalError, job.Provider, err)
	}

	results, rejected := normalize.NormalizeAll(batch.Readings)
	recordQuality(ctx, job.Provider, results, rejected)
	if len(results) == 0 {
		return 0, nil
	}

	n, err := e.store.UpsertMetrics(ctx, normalize.Metrics(results, job.UserID, job.Provider, payload.ID, now))
	if err != nil {
		return 0, classify.New(classify.CodeInternalError, job.Provider, err)
	}
	metrics.MetricsUpserted.WithLabelValues(job.Provider, string(models.SourcePull)).Add(float64(n))
	return n, nil
}

func (e *Executor) complete(ctx context.Context, job *models.SyncJob, conn *models.Connection, processed int, start time.Time) (Outcome, error) {
	now := e.now()
	if err := e.store.CompleteJob(ctx, job.ID, processed, now); err != nil {
		return OutcomeCompleted, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if err := e.store.RecordConnectionSuccess(ctx, conn.ID, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to record connection success")
	}

	if e.publisher != nil && processed > 0 {
		err := e.publisher.PublishMetricsIngested(ctx, events.MetricsIngested{
			UserID:   job.UserID,
			Provider: job.Provider,
			Count:    processed,
			Source:   string(models.SourcePull),
			At:       now,
		})
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish metrics ingested event")
		}
	}

	metrics.RecordSyncJob(job.Provider, string(OutcomeCompleted), time.Since(start), processed)
	logging.Ctx(ctx).Info().
		Str("provider", job.Provider).
		Str("user_id", job.UserID).
		Int("processed", processed).
		Dur("duration", time.Since(start)).
		Msg("Sync job completed")
	return OutcomeCompleted, nil
}

// handleFailure classifies err and applies the recovery posture for it.
func (e *Executor) handleFailure(ctx context.Context, job *models.SyncJob, conn *models.Connection, err error, start time.Time) (Outcome, error) {
	c := classify.Classify(err, job.Provider)
	metrics.ErrorsClassified.WithLabelValues(string(c.Category), c.Code).Inc()
	profile := classify.Strategy(c)
	f := failureOf(c)
	now := e.now()

	var (
		outcome  Outcome
		storeErr error
	)
	switch {
	case c.Code == classify.CodeCircuitOpen:
		// No provider call was made, so the retry budget and the
		// connection's error count stay as they are.
		next := now.Add(e.breakerWait())
		storeErr = e.store.DeferJob(ctx, job.ID, next, f, now)
		outcome = OutcomeRetry
		logging.Ctx(ctx).Debug().Time("next_retry_at", next).Msg("Sync job deferred while circuit breaker is open")

	case profile.Posture == classify.PostureRefresh:
		outcome, storeErr = e.refreshAndRetry(ctx, job, conn, f, now)

	case profile.Posture == classify.PostureRetry:
		if job.RetryCount < retryLimit(job, profile) {
			next := now.Add(e.delay(profile, job.RetryCount, c.RetryAfter))
			storeErr = e.store.ScheduleRetry(ctx, job.ID, next, f, now)
			metrics.SyncRetries.WithLabelValues(job.Provider, string(c.Category)).Inc()
			outcome = OutcomeRetry
			logging.Ctx(ctx).Info().Time("next_retry_at", next).Int("attempt", job.RetryCount+1).Msg("Sync job retry scheduled")
			break
		}
		storeErr = e.store.FailJob(ctx, job.ID, f, now)
		if conn != nil {
			storeErr = errors.Join(storeErr, e.store.IncrementConnectionErrors(ctx, conn.ID, c.Message))
		}
		outcome = OutcomeFailed

	case profile.Posture == classify.PostureReauthorize:
		storeErr = e.store.FailJob(ctx, job.ID, f, now)
		if conn != nil {
			status := models.ConnectionError
			if c.Category == classify.CategoryAuthentication {
				status = models.ConnectionExpired
			}
			storeErr = errors.Join(storeErr, e.store.MarkConnectionStatus(ctx, conn.ID, status, c.Message))
		}
		outcome = OutcomeFailed

	default:
		storeErr = e.store.FailJob(ctx, job.ID, f, now)
		outcome = OutcomeFailed
	}

	logFailure(logging.Ctx(ctx), job, c, profile.Posture, outcome)
	metrics.RecordSyncJob(job.Provider, string(outcome), time.Since(start), 0)
	if storeErr != nil {
		return outcome, fmt.Errorf("record failure of job %s: %w", job.ID, storeErr)
	}
	return outcome, nil
}

// refreshAndRetry renews credentials after TOKEN_EXPIRED and schedules one
// immediate retry. A job that already retried once for an expired token
// fails for good.
func (e *Executor) refreshAndRetry(ctx context.Context, job *models.SyncJob, conn *models.Connection, f models.JobFailure, now time.Time) (Outcome, error) {
	if conn == nil {
		return OutcomeFailed, e.store.FailJob(ctx, job.ID, f, now)
	}

	if job.ErrorCode == classify.CodeTokenExpired && job.RetryCount > 0 {
		err := errors.Join(
			e.store.FailJob(ctx, job.ID, f, now),
			e.store.MarkConnectionStatus(ctx, conn.ID, models.ConnectionExpired, f.Message),
		)
		if e.audit != nil {
			e.audit.LogConnectionExpired(ctx, conn, f.Code, f.Message)
		}
		return OutcomeFailed, err
	}

	var refreshErr error
	if e.refresher == nil {
		refreshErr = classify.New(classify.CodeTokenRefreshFailed, job.Provider, errors.New("token refresh is not configured"))
	} else {
		_, refreshErr = e.refresher.Refresh(ctx, conn)
	}
	if refreshErr == nil {
		if e.audit != nil {
			e.audit.LogTokenRefreshed(ctx, conn)
		}
		metrics.SyncRetries.WithLabelValues(job.Provider, string(classify.CategoryAuthentication)).Inc()
		return OutcomeRetry, e.store.ScheduleRetry(ctx, job.ID, now, f, now)
	}

	rc := classify.Classify(refreshErr, job.Provider)
	metrics.ErrorsClassified.WithLabelValues(string(rc.Category), rc.Code).Inc()
	if e.audit != nil {
		e.audit.LogTokenRefreshFailed(ctx, conn, rc.Code)
		e.audit.LogConnectionExpired(ctx, conn, rc.Code, rc.Message)
	}
	err := errors.Join(
		e.store.SetJobAwaitingCredentials(ctx, job.ID, failureOf(rc), now),
		e.store.MarkConnectionStatus(ctx, conn.ID, models.ConnectionExpired, rc.Message),
	)
	return OutcomeAwaitingCredentials, err
}

// park moves a job to awaiting_credentials without touching the provider.
func (e *Executor) park(ctx context.Context, job *models.SyncJob, err error, start time.Time) (Outcome, error) {
	c := classify.Classify(err, job.Provider)
	if storeErr := e.store.SetJobAwaitingCredentials(ctx, job.ID, failureOf(c), e.now()); storeErr != nil {
		return OutcomeAwaitingCredentials, fmt.Errorf("park job %s: %w", job.ID, storeErr)
	}
	logging.Ctx(ctx).Info().
		Str("provider", job.Provider).
		Str("connection_id", job.ConnectionID).
		Msg("Sync job waiting for connection to be reauthorized")
	metrics.RecordSyncJob(job.Provider, string(OutcomeAwaitingCredentials), time.Since(start), 0)
	return OutcomeAwaitingCredentials, nil
}

func (e *Executor) delay(p classify.Profile, attempt int, retryAfter time.Duration) time.Duration {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return p.DelayWithHint(attempt, retryAfter, e.rnd)
}

// retryLimit is the job's retry budget capped by the strategy's.
// breakerWait is how long a job rejected by an open breaker waits before it
// is claimable again.
func (e *Executor) breakerWait() time.Duration {
	if e.breakers == nil {
		return 5 * time.Minute
	}
	return e.breakers.OpenTimeout()
}

func retryLimit(job *models.SyncJob, p classify.Profile) int {
	if job.MaxRetries <= 0 || job.MaxRetries > p.MaxRetries {
		return p.MaxRetries
	}
	return job.MaxRetries
}

func failureOf(c classify.Classification) models.JobFailure {
	return models.JobFailure{Code: c.Code, Category: string(c.Category), Message: c.Message}
}

func recordQuality(ctx context.Context, provider string, results []normalize.Result, rejected []normalize.Rejection) {
	for _, r := range results {
		if r.IsAnomaly {
			metrics.QualityRejections.WithLabelValues(r.MetricType).Inc()
		}
	}
	for _, r := range rejected {
		logging.Ctx(ctx).Warn().
			Str("provider", provider).
			Int("index", r.Index).
			Str("name", logging.SanitizeLogValue(r.Name)).
			Err(r.Err).
			Msg("Skipping reading that could not be normalized")
	}
}

func logFailure(l *zerolog.Logger, job *models.SyncJob, c classify.Classification, posture classify.Posture, outcome Outcome) {
	ev := l.Warn()
	if outcome == OutcomeRetry {
		ev = l.Info()
	}
	ev.Str("provider", job.Provider).
		Str("connection_id", job.ConnectionID).
		Str("code", c.Code).
		Str("category", string(c.Category)).
		Str("severity", string(c.Severity)).
		Str("posture", string(posture)).
		Str("outcome", string(outcome)).
		Str("technical", logging.SanitizeLogValue(c.Technical)).
		Msg("Sync job failed")
}
