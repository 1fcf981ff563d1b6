// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.Sync.BatchSize)
	}
	if cfg.Breaker.Threshold != 5 || cfg.Breaker.OpenTimeout != 5*time.Minute || cfg.Breaker.CountWindow != time.Minute {
		t.Errorf("breaker defaults = %+v", cfg.Breaker)
	}
	if cfg.Analytics.Low != 70 || cfg.Analytics.High != 180 {
		t.Errorf("analytics band = [%v, %v]", cfg.Analytics.Low, cfg.Analytics.High)
	}
	if _, ok := cfg.Providers["dexcom"]; !ok {
		t.Error("expected dexcom provider defaults")
	}
	if cfg.Sync.WorkerID == "" {
		t.Error("expected WorkerID to default from hostname")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	chdirTemp(t)
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("SYNC_STALE_RUNNING_TIMEOUT", "45m")
	t.Setenv("WEBHOOK_SECRET_OURA", "0123456789abcdef0123")
	t.Setenv("DEXCOM_CLIENT_ID", "dex-client")
	t.Setenv("BREAKER_THRESHOLD", "3")
	t.Setenv("UNRELATED_VARIABLE", "ignored")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.Sync.BatchSize)
	}
	if cfg.Sync.StaleRunningTimeout != 45*time.Minute {
		t.Errorf("StaleRunningTimeout = %s", cfg.Sync.StaleRunningTimeout)
	}
	if got := cfg.Webhook.Secrets["oura"]; got != "0123456789abcdef0123" {
		t.Errorf("oura secret = %q", got)
	}
	if got := cfg.Providers["dexcom"].ClientID; got != "dex-client" {
		t.Errorf("dexcom client id = %q", got)
	}
	if got := cfg.Providers["dexcom"].BaseURL; got != "https://api.dexcom.com" {
		t.Errorf("dexcom base url lost its default: %q", got)
	}
	if cfg.Breaker.Threshold != 3 {
		t.Errorf("Threshold = %d", cfg.Breaker.Threshold)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %q", got)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
sync:
  workers: 8
  recurring_schedule: "@every 10m"
analytics:
  low: 65
  high: 200
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Sync.Workers)
	}
	if cfg.Analytics.Low != 65 || cfg.Analytics.High != 200 {
		t.Errorf("band = [%v, %v]", cfg.Analytics.Low, cfg.Analytics.High)
	}
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("BatchSize default lost: %d", cfg.Sync.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "SYNC_BATCH_SIZE"},
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }, "BREAKER_THRESHOLD"},
		{"inverted band", func(c *Config) { c.Analytics.Low = 200 }, "0 < low < high"},
		{"mmol band", func(c *Config) { c.Analytics.Low, c.Analytics.High, c.Analytics.Unit = 3.9, 10, "mmol/L" }, ""},
		{"unknown band unit", func(c *Config) { c.Analytics.Unit = "bpm" }, "ANALYTICS_UNIT"},
		{"bad cron", func(c *Config) { c.Sync.RecurringSchedule = "every now and then" }, "SYNC_RECURRING_SCHEDULE"},
		{"postgres without dsn", func(c *Config) { c.Postgres.Enabled = true }, "POSTGRES_DSN"},
		{"short webhook secret", func(c *Config) { c.Webhook.Secrets["oura"] = "short" }, "at least 16"},
		{"relative provider url", func(c *Config) {
			p := c.Providers["oura"]
			p.BaseURL = "/api"
			c.Providers["oura"] = p
		}, "absolute"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"no api rate limit", func(c *Config) { c.Server.RateLimitRequests = 0 }, "HTTP_RATE_LIMIT_REQUESTS"},
		{"audit retention", func(c *Config) { c.Audit.RetentionDays = 0 }, "AUDIT_RETENTION_DAYS"},
		{"wal without path", func(c *Config) { c.Events.WAL.Enabled = true; c.Events.WAL.Path = "" }, "EVENTS_WAL_PATH"},
		{"backup schedule", func(c *Config) { c.Backup.Enabled = true; c.Backup.Schedule = "nightly" }, "BACKUP_SCHEDULE"},
		{"backup keep count", func(c *Config) { c.Backup.Enabled = true; c.Backup.KeepCount = 0 }, "BACKUP_KEEP_COUNT"},
		{"wal attempts", func(c *Config) { c.Events.WAL.Enabled = true; c.Events.WAL.MaxAttempts = 0 }, "EVENTS_WAL_MAX_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"DUCKDB_PATH":             "database.path",
		"WEBHOOK_SECRET_DEXCOM":   "webhook.secrets.dexcom",
		"OURA_CLIENT_SECRET":      "providers.oura.client_secret",
		"WITHINGS_BASE_URL":       "providers.withings.base_url",
		"WITHINGS_SOMETHING_ELSE": "",
		"PATH":                    "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

// chdirTemp moves the test into an empty directory so a developer's
// config.yaml is not picked up.
func chdirTemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
}
