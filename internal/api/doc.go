// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package api provides the HTTP surface of Vitalsync using the chi router.

Routes:

	POST   /webhooks/{provider}                     provider push deliveries
	POST   /api/v1/connections                      register a connection, enqueue its backfill
	GET    /api/v1/connections/{id}                 connection plus provider breaker state
	PUT    /api/v1/connections/{id}/credentials     reauthorization hand-off
	DELETE /api/v1/connections/{id}                 revoke
	GET    /api/v1/users/{user}/connections         list a user's connections
	POST   /api/v1/sync/jobs                        manual enqueue
	GET    /api/v1/sync/jobs/{id}                   job status
	POST   /api/v1/payloads/{id}/replay             reprocess a stored webhook body
	GET    /api/v1/analytics/{user}/summary         ?metric=&days=
	GET    /api/v1/analytics/{user}/tir             ?metric=&days=&low=&high=
	GET    /api/v1/analytics/{user}/events          ?metric=&days=
	GET    /api/v1/analytics/{user}/correlation     ?a=&b=&days=
	GET    /api/v1/breakers                         every breaker snapshot
	GET    /health                                  store liveness
	GET    /metrics                                 Prometheus

Every /api/v1 response uses the models.APIResponse envelope. Webhook
responses are a bare {"ok":true} acknowledgement because providers only look
at the status code.

Webhook status mapping:

	200  accepted, including duplicates and partially unmapped bodies
	400  body could not be decoded
	401  signature mismatch
	404  unknown provider or unknown provider user
	413  body larger than webhook.max_body_bytes
	500  missing secret or storage failure
*/
package api
