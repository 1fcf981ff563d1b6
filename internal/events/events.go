// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package events carries domain events between components over watermill.
//
// The bus runs in process on a gochannel pub/sub by default. When a NATS
// URL is configured it uses core NATS instead, so several processes can
// share events. JetStream is not used. With an outbox attached, each event
// is written to the WAL first and confirmed once NATS takes it, so a broker
// outage delays events instead of losing them.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/wal"
)

// MetricsIngestedTopic is the topic suffix for MetricsIngested events.
const MetricsIngestedTopic = "metrics.ingested"

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// MetricsIngested announces that new metrics were stored for a user.
type MetricsIngested struct {
	UserID   string    `json:"user_id"`
	Provider string    `json:"provider"`
	Count    int       `json:"count"`
	Source   string    `json:"source"`
	At       time.Time `json:"at"`
}

// Outbox stores events until the broker accepts them.
type Outbox interface {
	Write(ctx context.Context, entry *wal.Entry) (string, error)
	Confirm(ctx context.Context, id string) error
}

// Bus publishes and subscribes to domain events.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	outbox     Outbox
	logger     watermill.LoggerAdapter

	// shared is set when one gochannel serves both sides.
	shared bool

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus from cfg. An empty NATSURL selects the in-process
// transport.
func NewBus(cfg config.EventsConfig) (*Bus, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	topic := topicName(cfg.TopicPrefix, MetricsIngestedTopic)

	if cfg.NATSURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		logging.Info().Str("topic", topic).Msg("Event bus using in-process transport")
		return &Bus{publisher: ch, subscriber: ch, topic: topic, logger: logger, shared: true}, nil
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.TopicPrefix,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create nats subscriber: %w", err), pub.Close())
	}

	logging.Info().Str("url", cfg.NATSURL).Str("topic", topic).Msg("Event bus using NATS")
	return &Bus{publisher: pub, subscriber: sub, topic: topic, logger: logger}, nil
}

func topicName(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}

// Topic returns the full MetricsIngested topic name.
func (b *Bus) Topic() string {
	return b.topic
}

// SetOutbox routes published events through o. Call before publishing.
func (b *Bus) SetOutbox(o Outbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbox = o
}

// PublishMetricsIngested publishes e. With an outbox, a failed publish is
// logged and left to the WAL retrier rather than returned.
func (b *Bus) PublishMetricsIngested(ctx context.Context, e MetricsIngested) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode metrics ingested event: %w", err)
	}
	metadata := map[string]string{
		"user_id":  e.UserID,
		"provider": e.Provider,
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		metadata["correlation_id"] = id
	}

	if b.outbox == nil {
		return b.publish(b.topic, watermill.NewUUID(), payload, metadata)
	}

	entry := &wal.Entry{Topic: b.topic, Payload: payload, Metadata: metadata}
	id, err := b.outbox.Write(ctx, entry)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("WAL write failed, publishing without outbox")
		return b.publish(b.topic, watermill.NewUUID(), payload, metadata)
	}
	if err := b.publish(b.topic, id, payload, metadata); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("entry_id", id).Msg("Publish failed, event kept in WAL for retry")
		return nil
	}
	if err := b.outbox.Confirm(ctx, id); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("entry_id", id).Msg("Failed to confirm WAL entry")
	}
	return nil
}

// Republish sends a stored WAL entry again. The entry ID is reused as the
// message UUID.
func (b *Bus) Republish(_ context.Context, entry *wal.Entry) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return b.publish(entry.Topic, entry.ID, entry.Payload, entry.Metadata)
}

func (b *Bus) publish(topic, uuid string, payload []byte, metadata map[string]string) error {
	msg := message.NewMessage(uuid, payload)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Retry settings for subscriber handlers.
const (
	handlerMaxRetries      = 3
	handlerInitialInterval = 100 * time.Millisecond
	handlerMaxInterval     = 5 * time.Second
)

// PoisonTopic returns the topic that receives events whose handler kept
// failing.
func (b *Bus) PoisonTopic() string {
	return b.topic + ".poison"
}

// Subscribe consumes MetricsIngested events until ctx is canceled. It runs
// a watermill router: panics become errors, failing handlers are retried
// with backoff and then moved to PoisonTopic. Messages that do not decode
// are acked and dropped.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, MetricsIngested) error) error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, b.logger)
	if err != nil {
		return fmt.Errorf("create event router: %w", err)
	}

	poison, err := middleware.PoisonQueue(b.publisher, b.PoisonTopic())
	if err != nil {
		return fmt.Errorf("create poison queue: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      handlerMaxRetries,
		InitialInterval: handlerInitialInterval,
		MaxInterval:     handlerMaxInterval,
		Multiplier:      2,
		Logger:          b.logger,
	}
	// Outermost first: poison sees the error only after retries are spent.
	router.AddMiddleware(poison, retry.Middleware, middleware.Recoverer)

	router.AddConsumerHandler("metrics-ingested", b.topic, ownedSubscriber{b.subscriber}, func(msg *message.Message) error {
		return b.handle(ctx, msg, handler)
	})

	if err := router.Run(ctx); err != nil {
		return fmt.Errorf("event router on %s: %w", b.topic, err)
	}
	return ctx.Err()
}

// ownedSubscriber stops the router from closing a subscriber the bus owns.
type ownedSubscriber struct {
	message.Subscriber
}

func (ownedSubscriber) Close() error { return nil }

func (b *Bus) handle(ctx context.Context, msg *message.Message, handler func(context.Context, MetricsIngested) error) error {
	var e MetricsIngested
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable event")
		return nil
	}

	if id := msg.Metadata.Get("correlation_id"); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	if err := handler(ctx, e); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_uuid", msg.UUID).Str("user_id", e.UserID).Msg("Event handler failed")
		return err
	}
	return nil
}

// Close shuts down both sides of the bus.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.publisher.Close()
	if !b.shared {
		err = errors.Join(err, b.subscriber.Close())
	}
	return err
}
