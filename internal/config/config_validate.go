// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateDatabase,
		c.validateSync,
		c.validateBreaker,
		c.validateWebhook,
		c.validateProviders,
		c.validateCache,
		c.validateAnalytics,
		c.validateEvents,
		c.validateAudit,
		c.validateBackup,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when POSTGRES_ENABLED=true")
		}
		return nil
	}
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH must not be empty")
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.TickInterval <= 0 {
		return fmt.Errorf("SYNC_TICK_INTERVAL must be positive, got %s", s.TickInterval)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive, got %d", s.BatchSize)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", s.Workers)
	}
	if s.DefaultMaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative, got %d", s.DefaultMaxRetries)
	}
	if s.BackfillDays <= 0 {
		return fmt.Errorf("SYNC_BACKFILL_DAYS must be positive, got %d", s.BackfillDays)
	}
	if s.DefaultWindow <= 0 {
		return fmt.Errorf("SYNC_DEFAULT_WINDOW must be positive, got %s", s.DefaultWindow)
	}
	if s.StaleRunningTimeout <= 0 {
		return fmt.Errorf("SYNC_STALE_RUNNING_TIMEOUT must be positive, got %s", s.StaleRunningTimeout)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("SYNC_SWEEP_INTERVAL must be positive, got %s", s.SweepInterval)
	}
	if s.RecurringSchedule != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(s.RecurringSchedule); err != nil {
			return fmt.Errorf("SYNC_RECURRING_SCHEDULE is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateBreaker() error {
	if c.Breaker.Threshold == 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("BREAKER_OPEN_TIMEOUT must be positive, got %s", c.Breaker.OpenTimeout)
	}
	if c.Breaker.CountWindow < 0 {
		return fmt.Errorf("BREAKER_COUNT_WINDOW must not be negative, got %s", c.Breaker.CountWindow)
	}
	if c.Breaker.RedisEnabled {
		if _, err := url.Parse(c.Breaker.RedisURL); err != nil || c.Breaker.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is invalid: %q", c.Breaker.RedisURL)
		}
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_BODY_BYTES must be positive, got %d", c.Webhook.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Webhook.SignatureHeader) == "" {
		return fmt.Errorf("WEBHOOK_SIGNATURE_HEADER must not be empty")
	}
	for provider, secret := range c.Webhook.Secrets {
		if secret != "" && len(secret) < 16 {
			return fmt.Errorf("webhook secret for %s must be at least 16 characters", provider)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	for name, p := range c.Providers {
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", name)
		}
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("provider %s: base_url %q must be an absolute http(s) URL", name, p.BaseURL)
		}
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("provider %s: requests_per_second must not be negative", name)
		}
		if p.ClientID != "" && p.TokenURL == "" {
			return fmt.Errorf("provider %s: token_url is required when client_id is set", name)
		}
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("CACHE_CAPACITY must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	return nil
}

func (c *Config) validateAnalytics() error {
	a := c.Analytics
	if a.Low <= 0 || a.High <= 0 || a.Low >= a.High {
		return fmt.Errorf("analytics range must satisfy 0 < low < high, got [%v, %v]", a.Low, a.High)
	}
	if !strings.EqualFold(a.Unit, "mg/dL") && !strings.EqualFold(a.Unit, "mmol/L") {
		return fmt.Errorf("ANALYTICS_UNIT must be mg/dL or mmol/L, got %q", a.Unit)
	}
	if a.SamplingInterval <= 0 {
		return fmt.Errorf("ANALYTICS_SAMPLING_INTERVAL must be positive, got %s", a.SamplingInterval)
	}
	if a.HypoMinDuration < 0 || a.HyperMinDuration < 0 {
		return fmt.Errorf("event minimum durations must not be negative")
	}
	return nil
}

func (c *Config) validateEvents() error {
	w := c.Events.WAL
	if !c.Events.Enabled || !w.Enabled {
		return nil
	}
	if w.Path == "" {
		return fmt.Errorf("EVENTS_WAL_PATH is required when the event WAL is enabled")
	}
	if w.RetryInterval <= 0 {
		return fmt.Errorf("EVENTS_WAL_RETRY_INTERVAL must be positive, got %s", w.RetryInterval)
	}
	if w.MaxAttempts < 1 {
		return fmt.Errorf("EVENTS_WAL_MAX_ATTEMPTS must be at least 1, got %d", w.MaxAttempts)
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 1, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be at least 1, got %d", c.Audit.BufferSize)
	}
	return nil
}

func (c *Config) validateBackup() error {
	b := c.Backup
	if !b.Enabled {
		return nil
	}
	if b.Dir == "" {
		return fmt.Errorf("BACKUP_DIR is required when backups are enabled")
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(b.Schedule); err != nil {
		return fmt.Errorf("BACKUP_SCHEDULE is not a valid cron expression: %w", err)
	}
	if b.KeepCount < 1 {
		return fmt.Errorf("BACKUP_KEEP_COUNT must be at least 1, got %d", b.KeepCount)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests <= 0 || c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("HTTP_RATE_LIMIT_REQUESTS and HTTP_RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
