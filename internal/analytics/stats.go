// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/vitalsync/internal/models"
	"github.com/tomtom215/vitalsync/internal/normalize"
)

// Reading is one point of a metric's time series.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// FromMetrics converts stored metrics to readings, keeping their order.
func FromMetrics(ms []models.NormalizedMetric) []Reading {
	out := make([]Reading, 0, len(ms))
	for i := range ms {
		out = append(out, Reading{Timestamp: ms[i].Timestamp, Value: ms[i].Value, Unit: ms[i].Unit})
	}
	return out
}

// Stats is the dispersion summary of a series.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Unit   string  `json:"unit"`
}

// TIR is the time-in-range split of a series, in percent.
type TIR struct {
	BelowPct   float64 `json:"below_pct"`
	InRangePct float64 `json:"in_range_pct"`
	AbovePct   float64 `json:"above_pct"`
	Count      int     `json:"count"`
}

// Summarize computes count, mean, median, population standard deviation,
// min and max. Values are expressed in the first reading's unit; readings
// that cannot be converted to it are skipped.
func Summarize(rs []Reading) Stats {
	return SummarizeIn(rs, "")
}

// SummarizeIn is Summarize with the values converted to unit. An empty unit
// means the first reading's unit.
func SummarizeIn(rs []Reading, unit string) Stats {
	unit, values := valuesIn(rs, unit)
	if len(values) == 0 {
		return Stats{Unit: unit}
	}

	st := Stats{Count: len(values), Unit: unit, Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(values)))
	st.Median = median(values)
	return st
}

// TimeInRange reports the share of readings below low, within [low, high]
// and above high. Bounds are in the first reading's unit. The three
// percentages sum to 100 for a non-empty series.
func TimeInRange(rs []Reading, low, high float64) TIR {
	return TimeInRangeIn(rs, low, high, "")
}

// TimeInRangeIn is TimeInRange with low and high given in unit. Readings
// that cannot be converted to unit are skipped.
func TimeInRangeIn(rs []Reading, low, high float64, unit string) TIR {
	_, values := valuesIn(rs, unit)
	if len(values) == 0 {
		return TIR{}
	}
	var below, above int
	for _, v := range values {
		switch {
		case v < low:
			below++
		case v > high:
			above++
		}
	}
	n := float64(len(values))
	t := TIR{
		Count:    len(values),
		BelowPct: float64(below) / n * 100,
		AbovePct: float64(above) / n * 100,
	}
	t.InRangePct = 100 - t.BelowPct - t.AbovePct
	return t
}

// EstimateA1C converts a mean glucose in mg/dL to an estimated A1c percent
// using the ADAG regression.
func EstimateA1C(meanGlucoseMgDL float64) float64 {
	return (meanGlucoseMgDL + 46.7) / 28.7
}

// GMI is the glucose management indicator for a mean glucose in mg/dL.
func GMI(meanGlucoseMgDL float64) float64 {
	return 3.31 + 0.02392*meanGlucoseMgDL
}

// valuesIn returns the values of rs converted to unit, or to the unit of
// the first reading when unit is empty.
func valuesIn(rs []Reading, unit string) (string, []float64) {
	unit = normalize.CanonicalUnit(unit)
	if len(rs) == 0 {
		return unit, nil
	}
	if unit == "" {
		unit = normalize.CanonicalUnit(rs[0].Unit)
	}
	values := make([]float64, 0, len(rs))
	for _, r := range rs {
		v, ok := convert(r, unit)
		if !ok {
			continue
		}
		values = append(values, v)
	}
	return unit, values
}

func convert(r Reading, unit string) (float64, bool) {
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return 0, false
	}
	v, err := normalize.Convert(r.Value, r.Unit, unit)
	if err != nil {
		return 0, false
	}
	return v, true
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// sortedByTime returns a copy of rs in timestamp order.
func sortedByTime(rs []Reading) []Reading {
	out := append([]Reading(nil), rs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
