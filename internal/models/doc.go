// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package models defines the records shared by the sync engine, the webhook
// pipeline, the stores and the HTTP API.
//
// Connections and sync jobs are mutable state. Raw payloads are append-only.
// Normalized metrics are keyed by (user, provider, metric type, timestamp)
// and only their quality fields may change after the first write.
package models
