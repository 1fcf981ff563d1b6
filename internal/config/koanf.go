// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vitalsync/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing order of precedence, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if cfg.Sync.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "vitalsync"
		}
		cfg.Sync.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// sliceConfigPaths are parsed as comma-separated lists when set from the
// environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated strings for known list fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"postgres_enabled":           "postgres.enabled",
	"postgres_dsn":               "postgres.dsn",
	"postgres_max_open_conns":    "postgres.max_open_conns",
	"postgres_max_idle_conns":    "postgres.max_idle_conns",
	"postgres_conn_max_lifetime": "postgres.conn_max_lifetime",

	"sync_tick_interval":         "sync.tick_interval",
	"sync_batch_size":            "sync.batch_size",
	"sync_workers":               "sync.workers",
	"sync_max_retries":           "sync.default_max_retries",
	"sync_backfill_days":         "sync.backfill_days",
	"sync_default_window":        "sync.default_window",
	"sync_stale_running_timeout": "sync.stale_running_timeout",
	"sync_sweep_interval":        "sync.sweep_interval",
	"sync_worker_id":             "sync.worker_id",
	"sync_recurring_schedule":    "sync.recurring_schedule",

	"breaker_threshold":        "breaker.threshold",
	"breaker_open_timeout":     "breaker.open_timeout",
	"breaker_count_window":     "breaker.count_window",
	"breaker_redis_enabled":    "breaker.redis_enabled",
	"redis_url":                "breaker.redis_url",
	"breaker_redis_key_prefix": "breaker.redis_key_prefix",

	"webhook_max_body_bytes":    "webhook.max_body_bytes",
	"webhook_signature_header":  "webhook.signature_header",
	"webhook_delivery_header":   "webhook.delivery_header",
	"webhook_rate_limit_reqs":   "webhook.rate_limit_reqs",
	"webhook_rate_limit_window": "webhook.rate_limit_window",

	"cache_capacity": "cache.capacity",
	"cache_ttl":      "cache.ttl",

	"analytics_low":                "analytics.low",
	"analytics_high":               "analytics.high",
	"analytics_unit":               "analytics.unit",
	"analytics_sampling_interval":  "analytics.sampling_interval",
	"analytics_hypo_min_duration":  "analytics.hypo_min_duration",
	"analytics_hyper_min_duration": "analytics.hyper_min_duration",

	"events_enabled":      "events.enabled",
	"nats_url":            "events.nats_url",
	"events_topic_prefix": "events.topic_prefix",

	"events_wal_enabled":        "events.wal.enabled",
	"events_wal_path":           "events.wal.path",
	"events_wal_sync_writes":    "events.wal.sync_writes",
	"events_wal_compression":    "events.wal.compression",
	"events_wal_retry_interval": "events.wal.retry_interval",
	"events_wal_max_attempts":   "events.wal.max_attempts",
	"events_wal_entry_ttl":      "events.wal.entry_ttl",
	"events_wal_gc_interval":    "events.wal.gc_interval",

	"audit_enabled":          "audit.enabled",
	"audit_retention_days":   "audit.retention_days",
	"audit_cleanup_interval": "audit.cleanup_interval",
	"audit_buffer_size":      "audit.buffer_size",
	"audit_log_to_stdout":    "audit.log_to_stdout",

	"backup_enabled":    "backup.enabled",
	"backup_dir":        "backup.dir",
	"backup_schedule":   "backup.schedule",
	"backup_keep_count": "backup.keep_count",
	"backup_max_age":    "backup.max_age",

	"http_host":          "server.host",
	"http_port":          "server.port",
	"http_read_timeout":  "server.read_timeout",
	"http_write_timeout": "server.write_timeout",
	"cors_origins":       "server.cors_origins",

	"http_rate_limit_requests": "server.rate_limit_requests",
	"http_rate_limit_window":   "server.rate_limit_window",

	"credential_key": "security.credential_key",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// providerEnvFields maps <PROVIDER>_<FIELD> suffixes onto provider keys.
var providerEnvFields = map[string]string{
	"base_url":            "base_url",
	"client_id":           "client_id",
	"client_secret":       "client_secret",
	"token_url":           "token_url",
	"requests_per_second": "requests_per_second",
	"burst":               "burst",
	"timeout":             "timeout",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unknown variables map to "" and are ignored.
//
//	DUCKDB_PATH             -> database.path
//	WEBHOOK_SECRET_OURA     -> webhook.secrets.oura
//	DEXCOM_CLIENT_SECRET    -> providers.dexcom.client_secret
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	if provider, ok := strings.CutPrefix(key, "webhook_secret_"); ok && provider != "" {
		return "webhook.secrets." + provider
	}

	for provider := range defaultProviders() {
		rest, ok := strings.CutPrefix(key, provider+"_")
		if !ok {
			continue
		}
		if field, ok := providerEnvFields[rest]; ok {
			return "providers." + provider + "." + field
		}
	}

	return ""
}
