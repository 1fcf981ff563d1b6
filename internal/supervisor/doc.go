// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package supervisor provides process supervision for Vitalsync using suture v4.

Every long-running component runs as a suture.Service inside a three layer
tree:

	RootSupervisor ("vitalsync")
	├── DataSupervisor ("data-layer")
	│   ├── stale-job-sweeper
	│   ├── analytics-cache-janitor
	│   └── metrics-ingested-subscriber
	├── SyncSupervisor ("sync-layer")
	│   ├── sync-scheduler
	│   └── recurring-sync
	└── APISupervisor ("api-layer")
	    └── http-server

Crashed services restart with suture's backoff. Each layer counts failures
independently, so a provider outage that makes the scheduler crash loop does
not take webhook ingestion down with it.

Service lifecycle events are logged through sutureslog using the slog bridge
from the logging package:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(services.NewSchedulerService(scheduler))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	return tree.Serve(ctx)

The adapters in the services subpackage translate Start/Stop and blocking
Run(ctx) lifecycles into suture's Serve(ctx).
*/
package supervisor
