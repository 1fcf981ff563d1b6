// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FleetStore shares the open state of breakers between worker processes.
// A worker that opens a breaker marks it for ttl; other workers reject
// calls for that key until the mark expires or is cleared.
type FleetStore interface {
	MarkOpen(ctx context.Context, key string, ttl time.Duration) error
	IsOpen(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
}

// RedisFleetStore keeps open markers as redis keys with a TTL.
type RedisFleetStore struct {
	client *redis.Client
	prefix string
}

// NewRedisFleetStore wraps an existing client. Keys are written as
// "<prefix>:open:<key>".
func NewRedisFleetStore(client *redis.Client, prefix string) *RedisFleetStore {
	if prefix == "" {
		prefix = "vitalsync:breaker"
	}
	return &RedisFleetStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisFleetStore) key(k string) string {
	return s.prefix + ":open:" + k
}

// MarkOpen records key as open for ttl.
func (s *RedisFleetStore) MarkOpen(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// IsOpen reports whether any worker has key marked open.
func (s *RedisFleetStore) IsOpen(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the open marker for key.
func (s *RedisFleetStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
