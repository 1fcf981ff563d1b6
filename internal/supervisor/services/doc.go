// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package services adapts Vitalsync components to suture.Service.
//
//	HTTPServerService          *http.Server (ListenAndServe / Shutdown)
//	SchedulerService           sync.Scheduler (Start / Stop)
//	RunService                 sync.Sweeper, sync.Recurring (Run(ctx))
//	JanitorService             analytics cache expiry
//	CacheInvalidationService   metrics.ingested subscriber
//
// Each service implements fmt.Stringer so suture logs a readable name.
package services
