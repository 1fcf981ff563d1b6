// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package wal is a BadgerDB outbox for events bound for NATS.
//
// An event is written to the WAL before it is published and removed once the
// broker accepts it. Anything left pending, because NATS was down or the
// process died between the two steps, is published again by the Retrier:
//
//	Bus.Publish -> WAL.Write -> NATS -> WAL.Confirm
//	                              x
//	Retrier (startup + interval) -> WAL.Pending -> NATS -> WAL.Confirm
//	                                                 x (MaxAttempts) -> dead letter
//
// Dead-lettered entries stay in the WAL under their own prefix for
// inspection and expire with EntryTTL like everything else.
package wal
