// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package sync

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/vitalsync/internal/breaker"
	"github.com/tomtom215/vitalsync/internal/classify"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
	"github.com/tomtom215/vitalsync/internal/providers"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type executorFixture struct {
	store     *memStore
	provider  *stubProvider
	exec      *Executor
	publisher *recordingPublisher
	conn      *models.Connection
}

func newExecutorFixture(t *testing.T, conn models.Connection) *executorFixture {
	t.Helper()
	store := newMemStore()
	if conn.Provider == "" {
		conn.Provider = "dexcom"
	}
	if conn.UserID == "" {
		conn.UserID = "user-1"
	}
	if conn.AccessToken == "" {
		conn.AccessToken = "access"
	}
	c := store.addConnection(conn)

	provider := &stubProvider{name: "dexcom", batch: glucoseBatch(3, testNow.Add(-time.Hour))}
	breakers := breaker.NewRegistry(breaker.Settings{
		Threshold:   3,
		OpenTimeout: time.Minute,
		CountWindow: time.Minute,
		IsFailure:   classify.CountsAgainstProvider,
	})
	exec := NewExecutor(store, providers.NewRegistry(provider), breakers)
	exec.SetClock(func() time.Time { return testNow })
	exec.SetRand(rand.New(rand.NewPCG(1, 2)))
	pub := &recordingPublisher{}
	exec.SetPublisher(pub)

	return &executorFixture{store: store, provider: provider, exec: exec, publisher: pub, conn: c}
}

// claimed inserts a job for the fixture's connection, claims it and returns
// the job as the scheduler observed it before the claim.
func (f *executorFixture) claimed(t *testing.T, mutate func(j *models.SyncJob)) *models.SyncJob {
	t.Helper()
	j := &models.SyncJob{
		ConnectionID: f.conn.ID,
		UserID:       f.conn.UserID,
		Provider:     f.conn.Provider,
		WindowStart:  testNow.Add(-24 * time.Hour),
		WindowEnd:    testNow,
		Priority:     models.PriorityManual,
		MaxRetries:   5,
		ScheduledAt:  testNow.Add(-time.Minute),
	}
	if mutate != nil {
		mutate(j)
	}
	if err := f.store.InsertJob(context.Background(), j); err != nil {
		t.Fatalf("InsertJob() error = %v", err)
	}
	observed := f.store.job(j.ID)
	if err := f.store.ClaimJob(context.Background(), j.ID, observed.Status, "test-worker", testNow); err != nil {
		t.Fatalf("ClaimJob() error = %v", err)
	}
	return &observed
}

func (f *executorFixture) execute(t *testing.T, job *models.SyncJob) Outcome {
	t.Helper()
	outcome, err := f.exec.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return outcome
}

func TestExecuteSuccess(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	job := f.claimed(t, nil)

	if got := f.execute(t, job); got != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", got)
	}

	stored := f.store.job(job.ID)
	if stored.Status != models.JobCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
	if stored.ProcessedRecords != 3 {
		t.Errorf("processed = %d, want 3", stored.ProcessedRecords)
	}
	if f.store.metricCount() != 3 {
		t.Errorf("stored metrics = %d, want 3", f.store.metricCount())
	}

	payload, ok := f.store.payloads["pull:"+job.ID+":0"]
	if !ok {
		t.Fatal("raw payload for pull not stored")
	}
	if payload.Source != models.SourcePull || payload.UserID != "user-1" {
		t.Errorf("payload = %+v", payload)
	}

	conn := f.store.connection(f.conn.ID)
	if conn.LastSyncedAt == nil || !conn.LastSyncedAt.Equal(testNow) {
		t.Errorf("LastSyncedAt = %v, want %v", conn.LastSyncedAt, testNow)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.publisher.events))
	}
	if e := f.publisher.events[0]; e.UserID != "user-1" || e.Count != 3 || e.Source != "pull" {
		t.Errorf("event = %+v", e)
	}
}

func TestExecuteQualityIssuesDoNotFailJob(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	f.provider.batch = &providers.Batch{
		EventType: "egvs",
		Raw:       []byte(`{}`),
		Readings: []normalize.RawReading{
			{Provider: "dexcom", Name: "egv", Value: 110, Unit: "mg/dL", Timestamp: testNow.Add(-10 * time.Minute)},
			{Provider: "dexcom", Name: "egv", Value: 1000, Unit: "mg/dL", Timestamp: testNow.Add(-5 * time.Minute)},
			{Provider: "dexcom", Name: "egv", Value: 120, Unit: "mg/dL", Timestamp: "not a time"},
		},
	}
	job := f.claimed(t, nil)

	if got := f.execute(t, job); got != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", got)
	}
	if got := f.store.job(job.ID).ProcessedRecords; got != 2 {
		t.Errorf("processed = %d, want 2 (anomaly kept, bad timestamp skipped)", got)
	}

	anomalies := 0
	for _, m := range f.store.metrics {
		if m.IsAnomaly {
			anomalies++
			if m.QualityScore != 0 {
				t.Errorf("anomaly quality score = %v, want 0", m.QualityScore)
			}
		}
	}
	if anomalies != 1 {
		t.Errorf("anomalies = %d, want 1", anomalies)
	}
}

func TestExecuteRetryableFailureSchedulesBackoff(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	f.provider.errs = []error{&providers.APIError{Provider: "dexcom", StatusCode: 503}}
	job := f.claimed(t, nil)

	if got := f.execute(t, job); got != OutcomeRetry {
		t.Fatalf("outcome = %s, want retry", got)
	}

	stored := f.store.job(job.ID)
	if !stored.AwaitingRetry() {
		t.Fatalf("job not awaiting retry: status=%s next=%v", stored.Status, stored.NextRetryAt)
	}
	if stored.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", stored.RetryCount)
	}
	if stored.ErrorCategory != string(classify.CategoryProviderAPI) || stored.ErrorCode != classify.CodeProviderUnavailable {
		t.Errorf("error = %s/%s", stored.ErrorCategory, stored.ErrorCode)
	}
	delay := stored.NextRetryAt.Sub(testNow)
	if delay < 30*time.Second || delay >= time.Minute {
		t.Errorf("first delay = %v, want within [30s, 60s)", delay)
	}
	if conn := f.store.connection(f.conn.ID); conn.ConsecutiveErrors != 0 {
		t.Errorf("consecutive errors = %d, want 0 while retries remain", conn.ConsecutiveErrors)
	}
}

func TestExecuteRateLimitHonoursRetryAfter(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	f.provider.errs = []error{&providers.APIError{Provider: "dexcom", StatusCode: 429, RetryAfter: 10 * time.Minute}}
	job := f.claimed(t, nil)

	if got := f.execute(t, job); got != OutcomeRetry {
		t.Fatalf("outcome = %s, want retry", got)
	}
	stored := f.store.job(job.ID)
	if stored.ErrorCategory != string(classify.CategoryRateLimit) {
		t.Errorf("category = %s, want rate_limit", stored.ErrorCategory)
	}
	if d := stored.NextRetryAt.Sub(testNow); d < 10*time.Minute || d > 30*time.Minute {
		t.Errorf("delay = %v, want between Retry-After and cap", d)
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	f.provider.errs = []error{&providers.APIError{Provider: "dexcom", StatusCode: 500}}
	past := testNow.Add(-time.Second)
	job := f.claimed(t, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.RetryCount = 2
		j.MaxRetries = 2
		j.NextRetryAt = &past
	})

	if got := f.execute(t, job); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	stored := f.store.job(job.ID)
	if !stored.Terminal() {
		t.Errorf("job should be terminal: status=%s next=%v", stored.Status, stored.NextRetryAt)
	}
	if conn := f.store.connection(f.conn.ID); conn.ConsecutiveErrors != 1 {
		t.Errorf("consecutive errors = %d, want 1", conn.ConsecutiveErrors)
	}
}

func TestExecuteRetryLimitCappedByStrategy(t *testing.T) {
	// Internal errors allow 3 retries even when the job allows more.
	f := newExecutorFixture(t, models.Connection{})
	f.store.upsertErr = errors.New("disk full")
	past := testNow.Add(-time.Second)
	job := f.claimed(t, func(j *models.SyncJob) {
		j.Status = models.JobFailed
		j.RetryCount = 3
		j.MaxRetries = 10
		j.NextRetryAt = &past
	})

	if got := f.execute(t, job); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	if code := f.store.job(job.ID).ErrorCode; code != classify.CodeInternalError {
		t.Errorf("code = %s, want INTERNAL_ERROR", code)
	}
}

func TestExecuteExpiredTokenRefreshesOnce(t *testing.T) {
	expired := testNow.Add(-time.Minute)
	f := newExecutorFixture(t, models.Connection{TokenExpiresAt: &expired, RefreshToken: "refresh"})
	refresher := &stubRefresher{}
	f.exec.SetRefresher(refresher)
	auditor := &recordingAuditor{}
	f.exec.SetAuditor(auditor)

	job := f.claimed(t, nil)
	if got := f.execute(t, job); got != OutcomeRetry {
		t.Fatalf("first outcome = %s, want retry", got)
	}
	if f.provider.callCount() != 0 {
		t.Errorf("provider called %d times with an expired token", f.provider.callCount())
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls)
	}

	stored := f.store.job(job.ID)
	if stored.ErrorCode != classify.CodeTokenExpired {
		t.Errorf("code = %s, want TOKEN_EXPIRED", stored.ErrorCode)
	}
	if stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(testNow) {
		t.Errorf("next retry = %v, want immediate", stored.NextRetryAt)
	}

	// The stub does not persist the new token, so the retry sees the same
	// expired token. A second TOKEN_EXPIRED is terminal.
	if err := f.store.ClaimJob(context.Background(), job.ID, models.JobFailed, "test-worker", testNow); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if got := f.execute(t, &stored); got != OutcomeFailed {
		t.Fatalf("second outcome = %s, want failed", got)
	}
	if refresher.calls != 1 {
		t.Errorf("refresh calls = %d after second expiry, want 1", refresher.calls)
	}
	if j := f.store.job(job.ID); !j.Terminal() {
		t.Error("job should be terminal after second TOKEN_EXPIRED")
	}
	if conn := f.store.connection(f.conn.ID); conn.Status != models.ConnectionExpired {
		t.Errorf("connection status = %s, want expired", conn.Status)
	}
	want := []string{"refreshed", "expired:" + classify.CodeTokenExpired}
	if got := auditor.recorded(); !slices.Equal(got, want) {
		t.Errorf("audit = %v, want %v", got, want)
	}
}

func TestExecuteRefreshFailureAwaitsCredentials(t *testing.T) {
	expired := testNow.Add(-time.Minute)
	f := newExecutorFixture(t, models.Connection{TokenExpiresAt: &expired})
	f.exec.SetRefresher(&stubRefresher{
		err: classify.New(classify.CodeTokenRefreshFailed, "dexcom", errors.New("invalid_grant")),
	})
	auditor := &recordingAuditor{}
	f.exec.SetAuditor(auditor)

	job := f.claimed(t, nil)
	if got := f.execute(t, job); got != OutcomeAwaitingCredentials {
		t.Fatalf("outcome = %s, want awaiting_credentials", got)
	}

	stored := f.store.job(job.ID)
	if stored.Status != models.JobAwaitingCredentials {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.ErrorCode != classify.CodeTokenRefreshFailed {
		t.Errorf("code = %s, want TOKEN_REFRESH_FAILED", stored.ErrorCode)
	}
	if conn := f.store.connection(f.conn.ID); conn.Status != models.ConnectionExpired {
		t.Errorf("connection status = %s, want expired", conn.Status)
	}
	want := []string{
		"refresh_failed:" + classify.CodeTokenRefreshFailed,
		"expired:" + classify.CodeTokenRefreshFailed,
	}
	if got := auditor.recorded(); !slices.Equal(got, want) {
		t.Errorf("audit = %v, want %v", got, want)
	}
}

func TestExecuteWithoutRefresherAwaitsCredentials(t *testing.T) {
	expired := testNow.Add(-time.Minute)
	f := newExecutorFixture(t, models.Connection{TokenExpiresAt: &expired})

	job := f.claimed(t, nil)
	if got := f.execute(t, job); got != OutcomeAwaitingCredentials {
		t.Fatalf("outcome = %s, want awaiting_credentials", got)
	}
}

func TestExecuteReauthorizePostures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantCode   string
		wantStatus models.ConnectionStatus
	}{
		{"invalid token", 401, classify.CodeTokenInvalid, models.ConnectionExpired},
		{"insufficient scope", 403, classify.CodeInsufficientScope, models.ConnectionError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture(t, models.Connection{})
			f.provider.errs = []error{&providers.APIError{Provider: "dexcom", StatusCode: tt.status}}
			job := f.claimed(t, nil)

			if got := f.execute(t, job); got != OutcomeFailed {
				t.Fatalf("outcome = %s, want failed", got)
			}
			stored := f.store.job(job.ID)
			if !stored.Terminal() || stored.ErrorCode != tt.wantCode {
				t.Errorf("job = %s/%s terminal=%v", stored.Status, stored.ErrorCode, stored.Terminal())
			}
			if conn := f.store.connection(f.conn.ID); conn.Status != tt.wantStatus {
				t.Errorf("connection status = %s, want %s", conn.Status, tt.wantStatus)
			}
		})
	}
}

func TestExecuteConnectionStates(t *testing.T) {
	tests := []struct {
		name        string
		status      models.ConnectionStatus
		wantOutcome Outcome
		wantCode    string
	}{
		{"revoked", models.ConnectionRevoked, OutcomeFailed, classify.CodeMissingConfiguration},
		{"error", models.ConnectionError, OutcomeFailed, classify.CodeInsufficientScope},
		{"expired", models.ConnectionExpired, OutcomeAwaitingCredentials, classify.CodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture(t, models.Connection{Status: tt.status})
			job := f.claimed(t, nil)

			if got := f.execute(t, job); got != tt.wantOutcome {
				t.Fatalf("outcome = %s, want %s", got, tt.wantOutcome)
			}
			if code := f.store.job(job.ID).ErrorCode; code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if f.provider.callCount() != 0 {
				t.Error("provider must not be called")
			}
		})
	}
}

func TestExecuteUnknownProvider(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{Provider: "fitbit"})
	job := f.claimed(t, nil)

	if got := f.execute(t, job); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	stored := f.store.job(job.ID)
	if stored.ErrorCategory != string(classify.CategoryConfiguration) || !stored.Terminal() {
		t.Errorf("job = %s/%s terminal=%v", stored.ErrorCategory, stored.ErrorCode, stored.Terminal())
	}
	if conn := f.store.connection(f.conn.ID); conn.Status != models.ConnectionActive {
		t.Errorf("log-only failure changed connection status to %s", conn.Status)
	}
}

func TestExecuteMissingConnection(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	job := f.claimed(t, func(j *models.SyncJob) { j.ConnectionID = "gone" })

	if got := f.execute(t, job); got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", got)
	}
	if code := f.store.job(job.ID).ErrorCode; code != classify.CodeMissingConfiguration {
		t.Errorf("code = %s, want MISSING_CONFIGURATION", code)
	}
}

func TestExecuteBreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	unavailable := &providers.APIError{Provider: "dexcom", StatusCode: 503}
	f.provider.errs = []error{unavailable, unavailable, unavailable, unavailable}

	for i := 0; i < 3; i++ {
		if got := f.execute(t, f.claimed(t, nil)); got != OutcomeRetry {
			t.Fatalf("attempt %d outcome = %s, want retry", i, got)
		}
	}
	if f.provider.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3", f.provider.callCount())
	}

	job := f.claimed(t, nil)
	if got := f.execute(t, job); got != OutcomeRetry {
		t.Fatalf("outcome with open breaker = %s, want retry", got)
	}
	if f.provider.callCount() != 3 {
		t.Errorf("provider called while breaker open (calls = %d)", f.provider.callCount())
	}
	stored := f.store.job(job.ID)
	if stored.ErrorCode != classify.CodeCircuitOpen {
		t.Errorf("code = %s, want CIRCUIT_OPEN", stored.ErrorCode)
	}
	if stored.RetryCount != job.RetryCount {
		t.Errorf("retry count = %d, want %d (open breaker must not use the budget)", stored.RetryCount, job.RetryCount)
	}
	if want := testNow.Add(time.Minute); stored.NextRetryAt == nil || !stored.NextRetryAt.Equal(want) {
		t.Errorf("next retry = %v, want %v", stored.NextRetryAt, want)
	}
}

func TestExecuteOpenBreakerNeverFailsExhaustedJob(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	unavailable := &providers.APIError{Provider: "dexcom", StatusCode: 503}
	f.provider.errs = []error{unavailable, unavailable, unavailable}
	for i := 0; i < 3; i++ {
		f.execute(t, f.claimed(t, nil))
	}

	job := f.claimed(t, func(j *models.SyncJob) { j.RetryCount = j.MaxRetries })
	if got := f.execute(t, job); got != OutcomeRetry {
		t.Fatalf("outcome = %s, want retry", got)
	}
	stored := f.store.job(job.ID)
	if stored.Terminal() || stored.RetryCount != job.MaxRetries {
		t.Errorf("job = status %s, retry count %d, next retry %v; want deferred with count %d",
			stored.Status, stored.RetryCount, stored.NextRetryAt, job.MaxRetries)
	}
	if conn := f.store.connection(f.conn.ID); conn.ConsecutiveErrors != 0 {
		t.Errorf("connection errors = %d, want 0", conn.ConsecutiveErrors)
	}
	if f.provider.callCount() != 3 {
		t.Errorf("provider calls = %d, want 3", f.provider.callCount())
	}
}

func TestExecuteCredentialFailuresDoNotTripBreaker(t *testing.T) {
	f := newExecutorFixture(t, models.Connection{})
	for i := 0; i < 5; i++ {
		f.provider.errs = []error{&providers.APIError{Provider: "dexcom", StatusCode: 401}}
		// Reset the connection so each job reaches the provider.
		_ = f.store.MarkConnectionStatus(context.Background(), f.conn.ID, models.ConnectionActive, "")
		f.execute(t, f.claimed(t, nil))
	}
	if f.provider.callCount() != 5 {
		t.Errorf("provider calls = %d, want 5", f.provider.callCount())
	}
	if state := f.exec.breakers.State("dexcom").State; state != breaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", state)
	}
}

func TestRetryLimit(t *testing.T) {
	p := classify.Profile{Posture: classify.PostureRetry, MaxRetries: 5}
	tests := []struct {
		jobMax int
		want   int
	}{
		{0, 5},
		{3, 3},
		{5, 5},
		{9, 5},
	}
	for _, tt := range tests {
		if got := retryLimit(&models.SyncJob{MaxRetries: tt.jobMax}, p); got != tt.want {
			t.Errorf("retryLimit(job max %d) = %d, want %d", tt.jobMax, got, tt.want)
		}
	}
}
