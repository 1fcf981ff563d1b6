// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
	"github.com/tomtom215/vitalsync/internal/validation"
)

// DexcomName is the registry key of the Dexcom provider.
const DexcomName = "dexcom"

// dexcomTimeLayout is the zone-less UTC format the egvs endpoint expects.
const dexcomTimeLayout = "2006-01-02T15:04:05"

// DexcomRecord is one estimated glucose value.
type DexcomRecord struct {
	RecordID    string   `json:"recordId"`
	SystemTime  string   `json:"systemTime"`
	DisplayTime string   `json:"displayTime"`
	Value       *float64 `json:"value"`
	Unit        string   `json:"unit"`
	Trend       string   `json:"trend,omitempty"`
}

type dexcomEGVResponse struct {
	RecordType string         `json:"recordType"`
	UserID     string         `json:"userId"`
	Records    []DexcomRecord `json:"records"`
}

// dexcomWebhook is the push envelope.
type dexcomWebhook struct {
	EventType  string         `json:"event_type" validate:"required"`
	UserID     string         `json:"user_id" validate:"required"`
	DeliveryID string         `json:"delivery_id"`
	Records    []DexcomRecord `json:"records"`
}

// Dexcom pulls CGM readings.
type Dexcom struct {
	client *Client
}

// NewDexcom creates the Dexcom provider.
func NewDexcom(client *Client) *Dexcom {
	return &Dexcom{client: client}
}

// Name implements Provider.
func (d *Dexcom) Name() string { return DexcomName }

// Pull fetches estimated glucose values for the window.
func (d *Dexcom) Pull(ctx context.Context, token string, w models.Window) (*Batch, error) {
	q := url.Values{}
	q.Set("startDate", w.Start.UTC().Format(dexcomTimeLayout))
	q.Set("endDate", w.End.UTC().Format(dexcomTimeLayout))

	var resp dexcomEGVResponse
	raw, err := d.client.getJSON(ctx, token, "/v3/users/self/egvs", q, &resp)
	if err != nil {
		return nil, fmt.Errorf("dexcom egvs: %w", err)
	}
	return &Batch{EventType: "egvs", Raw: raw, Readings: dexcomReadings(resp.Records)}, nil
}

// DecodeWebhook implements WebhookDecoder.
func (d *Dexcom) DecodeWebhook(body []byte) (*Delivery, error) {
	var env dexcomWebhook
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode dexcom webhook (malformed payload): %w", err)
	}
	if verr := validation.ValidateStruct(&env); verr != nil {
		return nil, fmt.Errorf("dexcom webhook: %w", verr)
	}

	delivery := &Delivery{DeliveryID: env.DeliveryID, ExternalUserID: env.UserID, EventType: env.EventType}
	if env.EventType == "egvs" {
		delivery.Readings = dexcomReadings(env.Records)
	}
	return delivery, nil
}

func dexcomReadings(records []DexcomRecord) []normalize.RawReading {
	out := make([]normalize.RawReading, 0, len(records))
	for _, r := range records {
		if r.Value == nil {
			continue
		}
		unit := r.Unit
		if unit == "" {
			unit = normalize.UnitMgDL
		}
		out = append(out, normalize.RawReading{
			Provider:  DexcomName,
			Name:      "egv",
			Value:     *r.Value,
			Unit:      unit,
			Timestamp: r.SystemTime,
		})
	}
	return out
}
