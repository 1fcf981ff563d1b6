// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package sync schedules and executes provider pull jobs.

Jobs live in the store. Any number of workers may run a Scheduler against
the same store: a job is claimed with a conditional update guarded by the
status the worker observed, so exactly one worker wins each claim and the
rest skip it silently.

Key Components:

  - Scheduler: enqueues jobs and runs the claim loop with a bounded worker pool
  - Executor: runs one claimed job (pull, normalize, upsert) and applies
    the recovery strategy chosen by the error classifier on failure
  - Sweeper: returns jobs stuck in running after a worker died to pending
  - Recurring: cron schedule that enqueues a job for every active connection
    without one

Job Lifecycle:

	pending --claim--> running --success--> completed
	                      |
	                      +--retryable--> failed (next_retry_at set) --claim--> running
	                      +--token refresh failed--> awaiting_credentials --reconnect--> pending
	                      +--exhausted / reauthorize / log only--> failed (terminal)

A running job whose worker vanished is returned to pending by the Sweeper
once it has been running longer than sync.stale_running_timeout.

Thread Safety:

All types are safe for concurrent use. Scheduler.Tick waits for the jobs
it dispatched before returning, so Stop drains in-flight work.
*/
package sync
