// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package testinfra provides container helpers for integration tests.
//
// It uses testcontainers-go to start the two external services a fleet
// deployment talks to: Postgres for the shared store and Redis for the
// fleet-wide circuit breaker markers.
//
//	func TestStoreAgainstPostgres(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg.Container)
//
//	    store, err := postgres.New(&config.PostgresConfig{Enabled: true, DSN: pg.DSN}, nil)
//	    // ...
//	}
//
// All files carry the integration build tag. Run them with
//
//	go test -tags integration ./...
//
// Tests are skipped when Docker is not available.
package testinfra
