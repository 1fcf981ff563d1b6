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

// OuraName is the registry key of the Oura provider.
const OuraName = "oura"

// maxOuraPages bounds next_token pagination per collection.
const maxOuraPages = 50

// Oura collections and webhook event types.
const (
	ouraDailySleep    = "daily_sleep"
	ouraSleep         = "sleep"
	ouraDailyActivity = "daily_activity"
	ouraHeartRate     = "heartrate"
)

// OuraSleep covers both daily_sleep summaries (score only) and detailed
// sleep periods (durations, HRV, breathing).
type OuraSleep struct {
	ID                 string   `json:"id"`
	Day                string   `json:"day"`
	Timestamp          string   `json:"timestamp"`
	BedtimeEnd         string   `json:"bedtime_end"`
	Score              *float64 `json:"score"`
	TotalSleepDuration *float64 `json:"total_sleep_duration"`
	DeepSleepDuration  *float64 `json:"deep_sleep_duration"`
	REMSleepDuration   *float64 `json:"rem_sleep_duration"`
	LightSleepDuration *float64 `json:"light_sleep_duration"`
	AverageHRV         *float64 `json:"average_hrv"`
	AverageBreath      *float64 `json:"average_breath"`
	LowestHeartRate    *float64 `json:"lowest_heart_rate"`
}

// OuraActivity is a daily activity summary.
type OuraActivity struct {
	ID                        string   `json:"id"`
	Day                       string   `json:"day"`
	Timestamp                 string   `json:"timestamp"`
	Score                     *float64 `json:"score"`
	Steps                     *float64 `json:"steps"`
	ActiveCalories            *float64 `json:"active_calories"`
	EquivalentWalkingDistance *float64 `json:"equivalent_walking_distance"`
}

// OuraHeartRate is a single heart rate sample.
type OuraHeartRate struct {
	BPM       float64 `json:"bpm"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

type ouraPage[T any] struct {
	Data      []T     `json:"data"`
	NextToken *string `json:"next_token"`
}

type ouraWebhook struct {
	EventType  string          `json:"event_type" validate:"required"`
	UserID     string          `json:"user_id" validate:"required"`
	DeliveryID string          `json:"delivery_id"`
	Data       json.RawMessage `json:"data"`
}

// Oura pulls ring data.
type Oura struct {
	client *Client
}

// NewOura creates the Oura provider.
func NewOura(client *Client) *Oura {
	return &Oura{client: client}
}

// Name implements Provider.
func (o *Oura) Name() string { return OuraName }

// Pull fetches daily sleep, daily activity and heart rate for the window.
// Daily collections take inclusive dates; heart rate takes datetimes.
func (o *Oura) Pull(ctx context.Context, token string, w models.Window) (*Batch, error) {
	days := url.Values{}
	days.Set("start_date", w.Start.UTC().Format("2006-01-02"))
	days.Set("end_date", w.End.UTC().Format("2006-01-02"))

	sleep, sleepRaw, err := ouraCollect[OuraSleep](ctx, o.client, token, ouraDailySleep, days)
	if err != nil {
		return nil, err
	}
	activity, activityRaw, err := ouraCollect[OuraActivity](ctx, o.client, token, ouraDailyActivity, days)
	if err != nil {
		return nil, err
	}

	span := url.Values{}
	span.Set("start_datetime", w.Start.UTC().Format("2006-01-02T15:04:05Z"))
	span.Set("end_datetime", w.End.UTC().Format("2006-01-02T15:04:05Z"))
	heart, heartRaw, err := ouraCollect[OuraHeartRate](ctx, o.client, token, ouraHeartRate, span)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(map[string][]json.RawMessage{
		ouraDailySleep:    sleepRaw,
		ouraDailyActivity: activityRaw,
		ouraHeartRate:     heartRaw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode oura raw batch: %w", err)
	}

	readings := ouraSleepReadings(sleep)
	readings = append(readings, ouraActivityReadings(activity)...)
	readings = append(readings, ouraHeartRateReadings(heart)...)
	return &Batch{EventType: "pull", Raw: raw, Readings: readings}, nil
}

// ouraCollect follows next_token pagination for one collection. Each page
// body is kept as returned.
func ouraCollect[T any](ctx context.Context, c *Client, token, collection string, q url.Values) ([]T, []json.RawMessage, error) {
	var (
		items []T
		pages []json.RawMessage
	)
	query := url.Values{}
	for k, v := range q {
		query[k] = v
	}
	for i := 0; i < maxOuraPages; i++ {
		var page ouraPage[T]
		raw, err := c.getJSON(ctx, token, "/v2/usercollection/"+collection, query, &page)
		if err != nil {
			return nil, nil, fmt.Errorf("oura %s: %w", collection, err)
		}
		items = append(items, page.Data...)
		pages = append(pages, raw)
		if page.NextToken == nil || *page.NextToken == "" {
			break
		}
		query.Set("next_token", *page.NextToken)
	}
	return items, pages, nil
}

// DecodeWebhook implements WebhookDecoder. The data array is decoded into
// the record type named by event_type; unknown event types are accepted
// with no readings.
func (o *Oura) DecodeWebhook(body []byte) (*Delivery, error) {
	var env ouraWebhook
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode oura webhook (malformed payload): %w", err)
	}
	if verr := validation.ValidateStruct(&env); verr != nil {
		return nil, fmt.Errorf("oura webhook: %w", verr)
	}

	delivery := &Delivery{DeliveryID: env.DeliveryID, ExternalUserID: env.UserID, EventType: env.EventType}
	if len(env.Data) == 0 {
		return delivery, nil
	}

	var err error
	switch env.EventType {
	case ouraSleep, ouraDailySleep:
		var records []OuraSleep
		if err = json.Unmarshal(env.Data, &records); err == nil {
			delivery.Readings = ouraSleepReadings(records)
		}
	case ouraDailyActivity:
		var records []OuraActivity
		if err = json.Unmarshal(env.Data, &records); err == nil {
			delivery.Readings = ouraActivityReadings(records)
		}
	case ouraHeartRate:
		var records []OuraHeartRate
		if err = json.Unmarshal(env.Data, &records); err == nil {
			delivery.Readings = ouraHeartRateReadings(records)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode oura %s records (malformed payload): %w", env.EventType, err)
	}
	return delivery, nil
}

func ouraSleepReadings(records []OuraSleep) []normalize.RawReading {
	var out []normalize.RawReading
	for _, r := range records {
		ts := firstNonEmpty(r.BedtimeEnd, r.Timestamp, r.Day)
		add := func(name string, v *float64, unit string) {
			if v != nil {
				out = append(out, normalize.RawReading{Provider: OuraName, Name: name, Value: *v, Unit: unit, Timestamp: ts})
			}
		}
		add("sleep_score", r.Score, normalize.UnitScore)
		add("total_sleep_duration", r.TotalSleepDuration, normalize.UnitSeconds)
		add("deep_sleep_duration", r.DeepSleepDuration, normalize.UnitSeconds)
		add("rem_sleep_duration", r.REMSleepDuration, normalize.UnitSeconds)
		add("light_sleep_duration", r.LightSleepDuration, normalize.UnitSeconds)
		add("average_hrv", r.AverageHRV, normalize.UnitMillis)
		add("average_breath", r.AverageBreath, normalize.UnitBreaths)
		add("lowest_heart_rate", r.LowestHeartRate, normalize.UnitBPM)
	}
	return out
}

func ouraActivityReadings(records []OuraActivity) []normalize.RawReading {
	var out []normalize.RawReading
	for _, r := range records {
		ts := firstNonEmpty(r.Timestamp, r.Day)
		add := func(name string, v *float64, unit string) {
			if v != nil {
				out = append(out, normalize.RawReading{Provider: OuraName, Name: name, Value: *v, Unit: unit, Timestamp: ts})
			}
		}
		add("activity_score", r.Score, normalize.UnitScore)
		add("steps", r.Steps, normalize.UnitCount)
		add("active_calories", r.ActiveCalories, normalize.UnitKcal)
		add("equivalent_walking_distance", r.EquivalentWalkingDistance, normalize.UnitMeter)
	}
	return out
}

func ouraHeartRateReadings(records []OuraHeartRate) []normalize.RawReading {
	out := make([]normalize.RawReading, 0, len(records))
	for _, r := range records {
		out = append(out, normalize.RawReading{Provider: OuraName, Name: "bpm", Value: r.BPM, Unit: normalize.UnitBPM, Timestamp: r.Timestamp})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
