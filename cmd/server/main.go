// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/vitalsync/internal/analytics"
	"github.com/tomtom215/vitalsync/internal/api"
	"github.com/tomtom215/vitalsync/internal/audit"
	"github.com/tomtom215/vitalsync/internal/auth"
	"github.com/tomtom215/vitalsync/internal/breaker"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/ingest"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/providers"
	"github.com/tomtom215/vitalsync/internal/supervisor"
	"github.com/tomtom215/vitalsync/internal/supervisor/services"
	"github.com/tomtom215/vitalsync/internal/sync"
	"github.com/tomtom215/vitalsync/internal/wal"
	"github.com/tomtom215/vitalsync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("worker_id", cfg.Sync.WorkerID).Msg("Starting Vitalsync with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("Vitalsync stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

// run wires every component, serves until ctx is canceled, then releases
// resources in reverse order.
func run(ctx context.Context, cfg *config.Config) error {
	encryptor, err := newEncryptor(cfg.Security)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, encryptor)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	auditStore, err := newAuditStore(ctx, store)
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(auditStore, cfg.Audit)
	defer func() {
		if err := auditLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit logger")
		}
	}()

	registry := providers.NewRegistryFromConfig(cfg.Providers)
	logging.Info().Strs("providers", registry.Names()).Msg("Providers registered")

	breakers, closeFleet, err := newBreakers(ctx, cfg.Breaker)
	if err != nil {
		return err
	}
	defer closeFleet()

	bus, err := newBus(cfg.Events)
	if err != nil {
		return err
	}
	if bus != nil {
		defer func() {
			if err := bus.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event bus")
			}
		}()
	}

	outbox, err := newOutbox(cfg.Events, bus)
	if err != nil {
		return err
	}
	if outbox != nil {
		defer func() {
			if err := outbox.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event WAL")
			}
		}()
	}

	executor := sync.NewExecutor(store, registry, breakers)
	executor.SetRefresher(auth.NewRefresher(cfg.Providers, store))
	executor.SetAuditor(auditLog)

	pipeline := ingest.NewPipeline(store, registry, cfg.Webhook.Secrets)
	if bus != nil {
		executor.SetPublisher(bus)
		pipeline.SetPublisher(bus)
	}

	scheduler := sync.NewScheduler(store, executor, cfg.Sync)
	recurring, err := sync.NewRecurring(scheduler, store, cfg.Sync.RecurringSchedule)
	if err != nil {
		return err
	}
	sweeper := sync.NewSweeper(store, cfg.Sync.StaleRunningTimeout, cfg.Sync.SweepInterval)

	analyticsSvc := analytics.NewService(store, cfg.Analytics, cfg.Cache)

	backups, err := newBackupManager(cfg.Backup, store)
	if err != nil {
		return err
	}
	var backupAPI api.Backups
	if backups != nil {
		backupAPI = backups
	}

	// The stream is fed by the metrics-ingested subscriber, so it only
	// exists alongside the bus.
	var (
		hub    *websocket.Hub
		stream api.StreamHub
	)
	if bus != nil {
		hub = websocket.NewHub(cfg.Server.CORSOrigins)
		stream = hub
	}

	handler := api.NewHandler(api.Dependencies{
		Store:     store,
		Scheduler: scheduler,
		Ingest:    pipeline,
		Analytics: analyticsSvc,
		Breakers:  breakers,
		Providers: registry,
		Audit:     auditLog,
		Stream:    stream,
		Backups:   backupAPI,
		Webhook:   cfg.Webhook,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server).Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewRunService("stale-job-sweeper", sweeper))
	tree.AddDataService(services.NewJanitorService("analytics-cache-janitor", analyticsSvc, cfg.Cache.TTL))
	if bus != nil {
		subscriber := services.NewCacheInvalidationService(bus, analyticsSvc)
		subscriber.AddNotifier(hub)
		tree.AddDataService(subscriber)
		tree.AddAPIService(services.NewRunService("websocket-hub", hub))
	}
	if outbox != nil {
		retrier := wal.NewRetrier(outbox, bus, wal.RetrierConfig{
			Interval:    cfg.Events.WAL.RetryInterval,
			MaxAttempts: cfg.Events.WAL.MaxAttempts,
			GCInterval:  cfg.Events.WAL.GCInterval,
		})
		tree.AddDataService(services.NewRunService("event-wal-retrier", retrier))
	}
	if auditLog.Enabled() {
		tree.AddDataService(services.NewRunService("audit-retention", auditLog))
	}
	if backups != nil {
		tree.AddDataService(services.NewRunService("database-backup", backups))
	}
	tree.AddSyncService(services.NewSchedulerService(scheduler))
	tree.AddSyncService(services.NewRunService("recurring-sync", recurring))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return nil
}

func newEncryptor(cfg config.SecurityConfig) (*config.CredentialEncryptor, error) {
	if cfg.CredentialKey == "" {
		logging.Warn().Msg("CREDENTIAL_KEY is not set; provider tokens are stored unencrypted")
		return nil, nil
	}
	enc, err := config.NewCredentialEncryptor(cfg.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("credential encryptor: %w", err)
	}
	return enc, nil
}

// newBreakers builds the provider breaker registry. With Redis enabled, an
// open breaker is shared by every worker.
func newBreakers(ctx context.Context, cfg config.BreakerConfig) (*breaker.Registry, func(), error) {
	settings := breaker.SettingsFromConfig(cfg)
	if !cfg.RedisEnabled {
		return breaker.NewRegistry(settings), func() {}, nil
	}

	client, err := breaker.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("breaker fleet redis: %w", err)
	}
	settings.Fleet = breaker.NewRedisFleetStore(client, cfg.RedisKeyPrefix)
	logging.Info().Str("prefix", cfg.RedisKeyPrefix).Msg("Breaker fleet state shared through Redis")

	return breaker.NewRegistry(settings), func() {
		if err := client.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}, nil
}

// newBus returns nil when events are disabled.
func newBus(cfg config.EventsConfig) (*events.Bus, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Event bus disabled (EVENTS_ENABLED=false)")
		return nil, nil
	}
	bus, err := events.NewBus(cfg)
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	return bus, nil
}

// newOutbox opens the event WAL and attaches it to bus. It returns nil when
// there is no bus or the WAL is disabled.
func newOutbox(cfg config.EventsConfig, bus *events.Bus) (*wal.BadgerWAL, error) {
	if bus == nil || !cfg.WAL.Enabled {
		return nil, nil
	}
	w, err := wal.Open(wal.Options{
		Path:        cfg.WAL.Path,
		SyncWrites:  cfg.WAL.SyncWrites,
		Compression: cfg.WAL.Compression,
		EntryTTL:    cfg.WAL.EntryTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("event WAL: %w", err)
	}
	bus.SetOutbox(w)
	return w, nil
}
