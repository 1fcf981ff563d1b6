// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package models

import (
	"encoding/json"
	"time"
)

// PayloadSource tells how a raw payload arrived.
type PayloadSource string

const (
	SourceWebhook PayloadSource = "webhook"
	SourcePull    PayloadSource = "pull"
)

// RawPayload is exactly what a provider sent. It is written once and never
// updated, so any later step can be replayed from it.
type RawPayload struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	UserID         string          `json:"user_id,omitempty"`
	ConnectionID   string          `json:"connection_id,omitempty"`
	Source         PayloadSource   `json:"source"`
	EventType      string          `json:"event_type,omitempty"`
	SignatureValid bool            `json:"signature_valid"`
	Body           json.RawMessage `json:"body"`
	ReceivedAt     time.Time       `json:"received_at"`
}

// NormalizedMetric is one canonical reading. (UserID, Provider, MetricType,
// Timestamp) is unique.
type NormalizedMetric struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Provider      string    `json:"provider"`
	MetricType    string    `json:"metric_type"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit"`
	Timestamp     time.Time `json:"timestamp"`
	QualityScore  float64   `json:"quality_score"`
	IsAnomaly     bool      `json:"is_anomaly"`
	AnomalyReason string    `json:"anomaly_reason,omitempty"`
	RawPayloadID  string    `json:"raw_payload_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MetricKey is the uniqueness key of a normalized metric.
type MetricKey struct {
	UserID     string
	Provider   string
	MetricType string
	Timestamp  time.Time
}

// Key returns the metric's uniqueness key.
func (m *NormalizedMetric) Key() MetricKey {
	return MetricKey{UserID: m.UserID, Provider: m.Provider, MetricType: m.MetricType, Timestamp: m.Timestamp.UTC()}
}

// DedupeMetrics drops repeated keys, keeping the last occurrence. A single
// upsert statement must not touch the same key twice.
func DedupeMetrics(ms []NormalizedMetric) []NormalizedMetric {
	if len(ms) < 2 {
		return ms
	}
	last := make(map[MetricKey]int, len(ms))
	for i := range ms {
		last[ms[i].Key()] = i
	}
	out := make([]NormalizedMetric, 0, len(last))
	for i := range ms {
		if last[ms[i].Key()] == i {
			out = append(out, ms[i])
		}
	}
	return out
}
