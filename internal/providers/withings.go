// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
)

// WithingsName is the registry key of the Withings provider.
const WithingsName = "withings"

const maxWithingsPages = 50

// withingsCategoryObjective marks user objectives, not real measurements.
const withingsCategoryObjective = 2

// withingsTypes maps Withings measure type codes to reading names and units.
var withingsTypes = map[int]struct {
	name string
	unit string
}{
	1:  {"weight", normalize.UnitKg},
	6:  {"fat_ratio", normalize.UnitPercent},
	9:  {"diastolic", normalize.UnitMmHg},
	10: {"systolic", normalize.UnitMmHg},
	11: {"heart_pulse", normalize.UnitBPM},
	54: {"spo2", normalize.UnitPercent},
	71: {"body_temperature", normalize.UnitCelsius},
}

// WithingsMeasure is one value in a measure group. The real value is
// Value * 10^Unit.
type WithingsMeasure struct {
	Value int64 `json:"value"`
	Type  int   `json:"type"`
	Unit  int   `json:"unit"`
}

// WithingsGroup is a set of measures taken together.
type WithingsGroup struct {
	GroupID  int64             `json:"grpid"`
	Date     int64             `json:"date"`
	Category int               `json:"category"`
	Measures []WithingsMeasure `json:"measures"`
}

type withingsResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
	Body   struct {
		MeasureGroups []WithingsGroup `json:"measuregrps"`
		More          int             `json:"more"`
		Offset        int             `json:"offset"`
	} `json:"body"`
}

// Withings pulls scale and blood pressure measurements. Withings reports
// application errors in the body status with HTTP 200.
type Withings struct {
	client *Client
}

// NewWithings creates the Withings provider.
func NewWithings(client *Client) *Withings {
	return &Withings{client: client}
}

// Name implements Provider.
func (w *Withings) Name() string { return WithingsName }

// Pull fetches measure groups for the window, following offset pagination.
func (w *Withings) Pull(ctx context.Context, token string, win models.Window) (*Batch, error) {
	form := url.Values{}
	form.Set("action", "getmeas")
	form.Set("startdate", strconv.FormatInt(win.Start.Unix(), 10))
	form.Set("enddate", strconv.FormatInt(win.End.Unix(), 10))

	var (
		groups []WithingsGroup
		pages  []json.RawMessage
	)
	for i := 0; i < maxWithingsPages; i++ {
		var resp withingsResponse
		raw, err := w.client.postForm(ctx, token, "/measure", form, &resp)
		if err != nil {
			return nil, fmt.Errorf("withings getmeas: %w", err)
		}
		if resp.Status != 0 {
			return nil, withingsStatusError(resp.Status, resp.Error)
		}
		groups = append(groups, resp.Body.MeasureGroups...)
		pages = append(pages, raw)
		if resp.Body.More == 0 {
			break
		}
		form.Set("offset", strconv.Itoa(resp.Body.Offset))
	}

	raw, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("encode withings raw batch: %w", err)
	}
	return &Batch{EventType: "getmeas", Raw: raw, Readings: withingsReadings(groups)}, nil
}

// withingsStatusError maps a body status to an APIError with the HTTP
// status it stands for, so classification treats both the same.
func withingsStatusError(status int, message string) *APIError {
	code := http.StatusBadGateway
	switch {
	case status == 401, status >= 100 && status <= 102, status == 200:
		code = http.StatusUnauthorized
	case status == 601:
		code = http.StatusTooManyRequests
	case status == 503:
		code = http.StatusBadRequest
	}
	return &APIError{
		Provider:   WithingsName,
		StatusCode: code,
		Status:     fmt.Sprintf("withings status %d", status),
		Body:       message,
	}
}

func withingsReadings(groups []WithingsGroup) []normalize.RawReading {
	var out []normalize.RawReading
	for _, g := range groups {
		if g.Category == withingsCategoryObjective {
			continue
		}
		for _, m := range g.Measures {
			t, ok := withingsTypes[m.Type]
			if !ok {
				continue
			}
			out = append(out, normalize.RawReading{
				Provider:  WithingsName,
				Name:      t.name,
				Value:     float64(m.Value) * math.Pow10(m.Unit),
				Unit:      t.unit,
				Timestamp: g.Date,
			})
		}
	}
	return out
}
