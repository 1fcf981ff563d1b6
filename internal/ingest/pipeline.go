// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package ingest accepts pushed provider deliveries: it verifies the
// signature, stores the raw body, normalizes the readings and upserts the
// resulting metrics.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/classify"
	"github.com/tomtom215/vitalsync/internal/database"
	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
	"github.com/tomtom215/vitalsync/internal/providers"
)

var (
	// ErrInvalidSignature is returned when the body's HMAC does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnknownUser is returned when no connection matches the delivery's
	// provider user id.
	ErrUnknownUser = errors.New("unknown provider user")
	// ErrUndecodable is returned for bodies the provider decoder rejects.
	ErrUndecodable = errors.New("undecodable webhook body")
	// ErrNotReplayable is returned when replaying a payload that cannot be
	// processed again.
	ErrNotReplayable = errors.New("payload cannot be replayed")
)

// Delivery outcomes used for metrics.
const (
	outcomeAccepted         = "accepted"
	outcomeDuplicate        = "duplicate"
	outcomeInvalidSignature = "invalid_signature"
	outcomeUnknownUser      = "unknown_user"
	outcomeUndecodable      = "undecodable"
	outcomeUnsupported      = "unsupported"
	outcomeError            = "error"
)

// Store is the persistence the pipeline needs.
type Store interface {
	FindConnectionByExternalUser(ctx context.Context, provider, externalUserID string) (*models.Connection, error)
	RecordConnectionSuccess(ctx context.Context, id string, at time.Time) error
	InsertRawPayload(ctx context.Context, p *models.RawPayload) (bool, error)
	GetRawPayload(ctx context.Context, id string) (*models.RawPayload, error)
	ListRawPayloads(ctx context.Context, userID, provider string, since time.Time) ([]models.RawPayload, error)
	UpsertMetrics(ctx context.Context, ms []models.NormalizedMetric) (int, error)
}

// DecoderLookup resolves a provider's webhook decoder.
type DecoderLookup interface {
	Decoder(name string) (providers.WebhookDecoder, error)
}

// EventPublisher announces newly stored metrics.
type EventPublisher interface {
	PublishMetricsIngested(ctx context.Context, e events.MetricsIngested) error
}

// Outcome summarizes one processed delivery.
type Outcome struct {
	PayloadID string `json:"payload_id"`
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Stored    int    `json:"stored"`
	Anomalies int    `json:"anomalies"`
	Rejected  int    `json:"rejected"`
}

// Pipeline processes webhook deliveries.
type Pipeline struct {
	store     Store
	decoders  DecoderLookup
	secrets   map[string]string
	publisher EventPublisher
	now       func() time.Time
}

// NewPipeline creates a pipeline. secrets maps provider name to the shared
// HMAC secret.
func NewPipeline(store Store, decoders DecoderLookup, secrets map[string]string) *Pipeline {
	s := make(map[string]string, len(secrets))
	for k, v := range secrets {
		s[strings.ToLower(k)] = v
	}
	return &Pipeline{
		store:    store,
		decoders: decoders,
		secrets:  s,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher enables metrics.ingested events.
func (p *Pipeline) SetPublisher(pub EventPublisher) {
	p.publisher = pub
}

// SetClock replaces the time source.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Ingest verifies, stores and processes one delivery. body must be the
// exact bytes received. deliveryHeader is the transport-level delivery id,
// used when the body carries none.
func (p *Pipeline) Ingest(ctx context.Context, provider string, body []byte, signature, deliveryHeader string) (*Outcome, error) {
	provider = strings.ToLower(provider)
	log := logging.Ctx(ctx).With().Str("provider", provider).Logger()

	decoder, err := p.decoders.Decoder(provider)
	if err != nil {
		p.count(provider, outcomeUnsupported)
		return nil, err
	}

	secret := p.secrets[provider]
	if secret == "" {
		p.count(provider, outcomeError)
		return nil, classify.New(classify.CodeMissingConfiguration, provider,
			fmt.Errorf("no webhook secret configured for %s", provider))
	}

	if !VerifySignature(secret, body, signature) {
		rejected := &models.RawPayload{
			ID:             "rejected:" + uuid.NewString(),
			Provider:       provider,
			Source:         models.SourceWebhook,
			SignatureValid: false,
			Body:           body,
			ReceivedAt:     p.now(),
		}
		if _, err := p.store.InsertRawPayload(ctx, rejected); err != nil {
			log.Warn().Err(err).Msg("Failed to record rejected webhook")
		}
		p.count(provider, outcomeInvalidSignature)
		log.Warn().Str("payload_id", rejected.ID).Msg("Webhook signature mismatch")
		return nil, ErrInvalidSignature
	}

	payload := &models.RawPayload{
		Provider:       provider,
		Source:         models.SourceWebhook,
		SignatureValid: true,
		Body:           body,
		ReceivedAt:     p.now(),
	}

	delivery, err := decoder.DecodeWebhook(body)
	if err != nil {
		payload.ID = PayloadID(provider, "", deliveryHeader, body)
		if _, storeErr := p.store.InsertRawPayload(ctx, payload); storeErr != nil {
			log.Warn().Err(storeErr).Msg("Failed to record undecodable webhook")
		}
		p.count(provider, outcomeUndecodable)
		log.Warn().Err(err).Str("payload_id", payload.ID).Msg("Webhook body could not be decoded")
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	payload.ID = PayloadID(provider, delivery.DeliveryID, deliveryHeader, body)
	payload.EventType = delivery.EventType

	conn, err := p.store.FindConnectionByExternalUser(ctx, provider, delivery.ExternalUserID)
	if err != nil {
		if _, storeErr := p.store.InsertRawPayload(ctx, payload); storeErr != nil {
			log.Warn().Err(storeErr).Msg("Failed to record webhook for unresolved user")
		}
		if errors.Is(err, database.ErrNotFound) {
			p.count(provider, outcomeUnknownUser)
			log.Info().
				Str("payload_id", payload.ID).
				Str("external_user_id", logging.SanitizeLogValue(delivery.ExternalUserID)).
				Msg("Webhook for unknown user")
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, delivery.ExternalUserID)
		}
		return nil, p.internal(provider, err)
	}

	payload.UserID = conn.UserID
	payload.ConnectionID = conn.ID
	inserted, err := p.store.InsertRawPayload(ctx, payload)
	if err != nil {
		return nil, p.internal(provider, err)
	}

	out, err := p.process(ctx, conn, payload.ID, delivery)
	if err != nil {
		return nil, p.internal(provider, err)
	}
	out.Duplicate = !inserted

	if out.Duplicate {
		p.count(provider, outcomeDuplicate)
	} else {
		p.count(provider, outcomeAccepted)
	}
	log.Info().
		Str("payload_id", out.PayloadID).
		Str("user_id", out.UserID).
		Str("event_type", out.EventType).
		Int("stored", out.Stored).
		Int("anomalies", out.Anomalies).
		Int("rejected", out.Rejected).
		Bool("duplicate", out.Duplicate).
		Msg("Webhook ingested")
	return out, nil
}

// Replay processes a stored webhook payload again, for example after the
// user's connection was created or the normalizer changed.
func (p *Pipeline) Replay(ctx context.Context, payloadID string) (*Outcome, error) {
	payload, err := p.store.GetRawPayload(ctx, payloadID)
	if err != nil {
		return nil, err
	}
	if payload.Source != models.SourceWebhook || !payload.SignatureValid {
		return nil, fmt.Errorf("%w: %s", ErrNotReplayable, payloadID)
	}

	decoder, err := p.decoders.Decoder(payload.Provider)
	if err != nil {
		return nil, err
	}
	delivery, err := decoder.DecodeWebhook(payload.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	conn, err := p.store.FindConnectionByExternalUser(ctx, payload.Provider, delivery.ExternalUserID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, delivery.ExternalUserID)
		}
		return nil, p.internal(payload.Provider, err)
	}

	out, err := p.process(ctx, conn, payload.ID, delivery)
	if err != nil {
		return nil, p.internal(payload.Provider, err)
	}
	logging.Ctx(ctx).Info().
		Str("payload_id", payload.ID).
		Int("stored", out.Stored).
		Msg("Webhook payload replayed")
	return out, nil
}

// ReplaySince replays every stored webhook payload of a user and provider
// received at or after since. Payloads that fail are logged and skipped.
func (p *Pipeline) ReplaySince(ctx context.Context, userID, provider string, since time.Time) (int, error) {
	payloads, err := p.store.ListRawPayloads(ctx, userID, provider, since)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for i := range payloads {
		if payloads[i].Source != models.SourceWebhook || !payloads[i].SignatureValid {
			continue
		}
		if _, err := p.Replay(ctx, payloads[i].ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("payload_id", payloads[i].ID).Msg("Replay failed")
			continue
		}
		replayed++
	}
	return replayed, nil
}

// process normalizes and stores a decoded delivery for conn.
func (p *Pipeline) process(ctx context.Context, conn *models.Connection, payloadID string, d *providers.Delivery) (*Outcome, error) {
	out := &Outcome{PayloadID: payloadID, UserID: conn.UserID, EventType: d.EventType}

	results, rejected := normalize.NormalizeAll(d.Readings)
	out.Rejected = len(rejected)
	for _, r := range results {
		if r.IsAnomaly {
			out.Anomalies++
			metrics.QualityRejections.WithLabelValues(r.MetricType).Inc()
		}
	}
	for _, r := range rejected {
		logging.Ctx(ctx).Debug().Int("index", r.Index).Err(r.Err).Msg("Skipping webhook reading")
	}

	now := p.now()
	if len(results) > 0 {
		n, err := p.store.UpsertMetrics(ctx, normalize.Metrics(results, conn.UserID, conn.Provider, payloadID, now))
		if err != nil {
			return nil, err
		}
		out.Stored = n
		metrics.MetricsUpserted.WithLabelValues(conn.Provider, string(models.SourceWebhook)).Add(float64(n))
	}

	if err := p.store.RecordConnectionSuccess(ctx, conn.ID, now); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("connection_id", conn.ID).Msg("Failed to record connection success")
	}

	if p.publisher != nil && out.Stored > 0 {
		err := p.publisher.PublishMetricsIngested(ctx, events.MetricsIngested{
			UserID:   conn.UserID,
			Provider: conn.Provider,
			Count:    out.Stored,
			Source:   string(models.SourceWebhook),
			At:       now,
		})
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to publish metrics ingested event")
		}
	}
	return out, nil
}

func (p *Pipeline) internal(provider string, err error) error {
	c := classify.Classify(err, provider)
	metrics.ErrorsClassified.WithLabelValues(string(c.Category), c.Code).Inc()
	p.count(provider, outcomeError)
	return classify.Wrap(err, provider)
}

func (p *Pipeline) count(provider, outcome string) {
	metrics.WebhookDeliveries.WithLabelValues(provider, outcome).Inc()
}

// VerifySignature checks a hex HMAC-SHA256 of body. A "sha256=" prefix on
// the signature is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// PayloadID derives the raw payload id of a delivery: the provider's
// delivery id when present, then the transport header, then a hash of the
// body.
func PayloadID(provider, deliveryID, deliveryHeader string, body []byte) string {
	switch {
	case deliveryID != "":
		return provider + ":" + deliveryID
	case deliveryHeader != "":
		return provider + ":" + deliveryHeader
	}
	sum := sha256.Sum256(body)
	return provider + ":" + hex.EncodeToString(sum[:])[:32]
}
