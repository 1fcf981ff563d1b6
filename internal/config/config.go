// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package config loads and validates Vitalsync configuration.
//
// Configuration is layered with koanf: struct defaults, then an optional
// YAML file, then environment variables. See Load.
package config

import (
	"time"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig            `koanf:"database"`
	Postgres  PostgresConfig            `koanf:"postgres"`
	Sync      SyncConfig                `koanf:"sync"`
	Breaker   BreakerConfig             `koanf:"breaker"`
	Webhook   WebhookConfig             `koanf:"webhook"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Cache     CacheConfig               `koanf:"cache"`
	Analytics AnalyticsConfig           `koanf:"analytics"`
	Events    EventsConfig              `koanf:"events"`
	Audit     AuditConfig               `koanf:"audit"`
	Backup    BackupConfig              `koanf:"backup"`
	Server    ServerConfig              `koanf:"server"`
	Security  SecurityConfig            `koanf:"security"`
	Logging   LoggingConfig             `koanf:"logging"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// PostgresConfig configures the shared Postgres store used when several
// sync workers run against one database.
type PostgresConfig struct {
	Enabled         bool          `koanf:"enabled"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// SyncConfig configures the job scheduler, executor and sweeper.
type SyncConfig struct {
	TickInterval        time.Duration `koanf:"tick_interval"`
	BatchSize           int           `koanf:"batch_size"`
	Workers             int           `koanf:"workers"`
	DefaultMaxRetries   int           `koanf:"default_max_retries"`
	BackfillDays        int           `koanf:"backfill_days"`
	DefaultWindow       time.Duration `koanf:"default_window"`
	StaleRunningTimeout time.Duration `koanf:"stale_running_timeout"`
	SweepInterval       time.Duration `koanf:"sweep_interval"`
	WorkerID            string        `koanf:"worker_id"` // defaults to hostname
	RecurringSchedule   string        `koanf:"recurring_schedule"`
}

// BreakerConfig configures per-provider circuit breakers.
type BreakerConfig struct {
	Threshold      uint32        `koanf:"threshold"`
	OpenTimeout    time.Duration `koanf:"open_timeout"`
	CountWindow    time.Duration `koanf:"count_window"`
	RedisEnabled   bool          `koanf:"redis_enabled"`
	RedisURL       string        `koanf:"redis_url"`
	RedisKeyPrefix string        `koanf:"redis_key_prefix"`
}

// WebhookConfig configures push ingestion.
type WebhookConfig struct {
	MaxBodyBytes    int64             `koanf:"max_body_bytes"`
	SignatureHeader string            `koanf:"signature_header"`
	DeliveryHeader  string            `koanf:"delivery_header"`
	Secrets         map[string]string `koanf:"secrets"` // provider -> shared HMAC secret
	RateLimitReqs   int               `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration     `koanf:"rate_limit_window"`
}

// ProviderConfig configures one provider's REST API and OAuth client.
type ProviderConfig struct {
	BaseURL           string        `koanf:"base_url"`
	ClientID          string        `koanf:"client_id"`
	ClientSecret      string        `koanf:"client_secret"`
	TokenURL          string        `koanf:"token_url"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Timeout           time.Duration `koanf:"timeout"`
}

// CacheConfig configures the analytics result cache.
type CacheConfig struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

// AnalyticsConfig holds glucose band and event detection defaults. Low and
// High are in Unit, which is mg/dL or mmol/L.
type AnalyticsConfig struct {
	Low              float64       `koanf:"low"`
	High             float64       `koanf:"high"`
	Unit             string        `koanf:"unit"`
	SamplingInterval time.Duration `koanf:"sampling_interval"`
	HypoMinDuration  time.Duration `koanf:"hypo_min_duration"`
	HyperMinDuration time.Duration `koanf:"hyper_min_duration"`
}

// EventsConfig configures the watermill event bus. An empty NATSURL keeps
// events in process.
type EventsConfig struct {
	Enabled     bool   `koanf:"enabled"`
	NATSURL     string `koanf:"nats_url"`
	TopicPrefix string `koanf:"topic_prefix"`

	// WAL keeps unpublished events on disk until NATS accepts them.
	WAL WALConfig `koanf:"wal"`
}

// WALConfig configures the BadgerDB event outbox.
type WALConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	SyncWrites    bool          `koanf:"sync_writes"`
	Compression   bool          `koanf:"compression"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxAttempts   int           `koanf:"max_attempts"`
	EntryTTL      time.Duration `koanf:"entry_ttl"`
	GCInterval    time.Duration `koanf:"gc_interval"`
}

// AuditConfig configures the connection audit trail.
type AuditConfig struct {
	Enabled         bool          `koanf:"enabled"`
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	BufferSize      int           `koanf:"buffer_size"`
	LogToStdout     bool          `koanf:"log_to_stdout"`
}

// BackupConfig configures scheduled snapshots of the DuckDB file. Backups
// are skipped when Postgres is the store.
type BackupConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	// Schedule is a six-field cron expression (with seconds).
	Schedule  string        `koanf:"schedule"`
	KeepCount int           `koanf:"keep_count"`
	MaxAge    time.Duration `koanf:"max_age"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// Per-IP limit for /api/v1 routes.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// CORSOrigins lists origins allowed to call /api/v1. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins"`
}

// SecurityConfig holds the key used to seal provider tokens at rest.
type SecurityConfig struct {
	CredentialKey string `koanf:"credential_key"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultProviders lists the providers shipped with Vitalsync and their
// public API hosts.
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"dexcom": {
			BaseURL:           "https://api.dexcom.com",
			TokenURL:          "https://api.dexcom.com/v2/oauth2/token",
			RequestsPerSecond: 2,
			Burst:             4,
			Timeout:           30 * time.Second,
		},
		"oura": {
			BaseURL:           "https://api.ouraring.com",
			TokenURL:          "https://api.ouraring.com/oauth/token",
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           30 * time.Second,
		},
		"withings": {
			BaseURL:           "https://wbsapi.withings.net",
			TokenURL:          "https://wbsapi.withings.net/v2/oauth2",
			RequestsPerSecond: 2,
			Burst:             2,
			Timeout:           30 * time.Second,
		},
	}
}

// defaultConfig returns the built-in defaults applied before file and env.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/vitalsync.duckdb",
			MaxMemory: "1GB",
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Sync: SyncConfig{
			TickInterval:        30 * time.Second,
			BatchSize:           10,
			Workers:             4,
			DefaultMaxRetries:   5,
			BackfillDays:        30,
			DefaultWindow:       24 * time.Hour,
			StaleRunningTimeout: 15 * time.Minute,
			SweepInterval:       time.Minute,
			RecurringSchedule:   "0 */15 * * * *",
		},
		Breaker: BreakerConfig{
			Threshold:      5,
			OpenTimeout:    5 * time.Minute,
			CountWindow:    time.Minute,
			RedisURL:       "redis://127.0.0.1:6379/0",
			RedisKeyPrefix: "vitalsync:breaker",
		},
		Webhook: WebhookConfig{
			MaxBodyBytes:    1 << 20,
			SignatureHeader: "X-Provider-Signature",
			DeliveryHeader:  "X-Provider-Delivery",
			Secrets:         map[string]string{},
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
		},
		Providers: defaultProviders(),
		Cache: CacheConfig{
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			Low:              70,
			High:             180,
			Unit:             "mg/dL",
			SamplingInterval: 5 * time.Minute,
			HypoMinDuration:  15 * time.Minute,
			HyperMinDuration: 60 * time.Minute,
		},
		Events: EventsConfig{
			Enabled:     true,
			TopicPrefix: "vitalsync",
			WAL: WALConfig{
				Path:          "/data/wal",
				SyncWrites:    true,
				Compression:   true,
				RetryInterval: 30 * time.Second,
				MaxAttempts:   20,
				EntryTTL:      7 * 24 * time.Hour,
				GCInterval:    10 * time.Minute,
			},
		},
		Audit: AuditConfig{
			Enabled:         true,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      1000,
		},
		Backup: BackupConfig{
			Dir:       "/data/backups",
			Schedule:  "0 0 3 * * *",
			KeepCount: 7,
			MaxAge:    30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,

			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
