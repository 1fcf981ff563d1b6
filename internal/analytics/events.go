// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"time"

	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/normalize"
)

// EventKind is the direction of a sustained excursion.
type EventKind string

const (
	EventHypo  EventKind = "hypo"
	EventHyper EventKind = "hyper"
)

// EventConfig bounds the in-range band and the minimum durations an
// excursion must last to count as an event. Low and High are in Unit.
type EventConfig struct {
	Low              float64
	High             float64
	Unit             string
	SamplingInterval time.Duration
	HypoMinDuration  time.Duration
	HyperMinDuration time.Duration
}

// DefaultEventConfig returns the glucose defaults: 70-180 mg/dL, 5 minute
// sampling, 15 minute hypo and 60 minute hyper thresholds.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		Low:              70,
		High:             180,
		Unit:             normalize.UnitMgDL,
		SamplingInterval: 5 * time.Minute,
		HypoMinDuration:  15 * time.Minute,
		HyperMinDuration: 60 * time.Minute,
	}
}

// EventConfigFrom builds an EventConfig from the analytics configuration.
// Zero fields fall back to the defaults.
func EventConfigFrom(cfg config.AnalyticsConfig) EventConfig {
	ec := EventConfig{
		Low:              cfg.Low,
		High:             cfg.High,
		Unit:             cfg.Unit,
		SamplingInterval: cfg.SamplingInterval,
		HypoMinDuration:  cfg.HypoMinDuration,
		HyperMinDuration: cfg.HyperMinDuration,
	}
	return ec.withDefaults()
}

func (c EventConfig) withDefaults() EventConfig {
	d := DefaultEventConfig()
	if c.Low == 0 && c.High == 0 {
		c.Low, c.High, c.Unit = d.Low, d.High, d.Unit
	}
	if c.Unit == "" {
		c.Unit = d.Unit
	}
	c.Unit = normalize.CanonicalUnit(c.Unit)
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = d.SamplingInterval
	}
	if c.HypoMinDuration <= 0 {
		c.HypoMinDuration = d.HypoMinDuration
	}
	if c.HyperMinDuration <= 0 {
		c.HyperMinDuration = d.HyperMinDuration
	}
	return c
}

// Event is one kept excursion. Extreme is the nadir of a hypo event or the
// peak of a hyper event.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
	Readings  int           `json:"readings"`
	Extreme   float64       `json:"extreme"`
	ExtremeAt time.Time     `json:"extreme_at"`
}

// DetectEvents scans rs chronologically for sustained excursions outside
// [Low, High]. Values are converted to the band's unit first and readings
// that cannot be converted are skipped. An event opens on the first out-of-band reading and closes
// when a reading returns in band or crosses to the other side. Its duration
// is the reading count times the sampling interval, and events shorter than
// the kind's minimum are dropped.
func DetectEvents(rs []Reading, cfg EventConfig) []Event {
	cfg = cfg.withDefaults()
	ordered := sortedByTime(rs)
	if len(ordered) == 0 {
		return nil
	}

	var (
		out  []Event
		open *Event
	)
	closeOpen := func() {
		if open == nil {
			return
		}
		open.Duration = time.Duration(open.Readings) * cfg.SamplingInterval
		if open.Duration >= cfg.minDuration(open.Kind) {
			out = append(out, *open)
		}
		open = nil
	}

	for _, r := range ordered {
		v, ok := convert(r, cfg.Unit)
		if !ok {
			continue
		}
		kind, outside := cfg.band(v)
		if !outside {
			closeOpen()
			continue
		}
		if open != nil && open.Kind != kind {
			closeOpen()
		}
		if open == nil {
			open = &Event{Kind: kind, Start: r.Timestamp, Extreme: v, ExtremeAt: r.Timestamp}
		}
		open.End = r.Timestamp
		open.Readings++
		if (kind == EventHypo && v < open.Extreme) || (kind == EventHyper && v > open.Extreme) {
			open.Extreme = v
			open.ExtremeAt = r.Timestamp
		}
	}
	closeOpen()
	return out
}

// band classifies v. The second result is false for in-band values.
func (c EventConfig) band(v float64) (EventKind, bool) {
	switch {
	case v < c.Low:
		return EventHypo, true
	case v > c.High:
		return EventHyper, true
	}
	return "", false
}

func (c EventConfig) minDuration(k EventKind) time.Duration {
	if k == EventHypo {
		return c.HypoMinDuration
	}
	return c.HyperMinDuration
}
