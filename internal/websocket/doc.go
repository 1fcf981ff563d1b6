// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package websocket streams live ingest notifications to dashboards.

A client connects to GET /api/v1/users/{user}/stream and receives a JSON
message each time new metrics are stored for that user:

	{"type":"metrics_ingested","data":{"user_id":"u1","provider":"dexcom","count":12,"source":"pull","at":"..."}}

Clients may send {"type":"ping"} and get {"type":"pong"} back. The server
also sends websocket pings every 54s and drops a client that misses its pong
window or whose send buffer fills up.

The Hub runs as a supervised service in the API layer. It is fed by the
metrics-ingested subscriber, so with NATS configured every process streams
events produced by any worker.
*/
package websocket
