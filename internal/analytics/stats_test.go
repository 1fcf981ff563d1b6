// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// series builds readings at 5 minute steps from t0.
func series(unit string, values ...float64) []Reading {
	out := make([]Reading, len(values))
	for i, v := range values {
		out[i] = Reading{Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute), Value: v, Unit: unit}
	}
	return out
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		rs   []Reading
		want Stats
	}{
		{
			name: "empty",
			rs:   nil,
			want: Stats{},
		},
		{
			name: "single",
			rs:   series("mg/dL", 120),
			want: Stats{Count: 1, Mean: 120, Median: 120, Min: 120, Max: 120, Unit: "mg/dL"},
		},
		{
			name: "odd count",
			rs:   series("mg/dL", 2, 4, 4, 4, 5, 5, 7, 9, 1),
			want: Stats{Count: 9, Mean: 41.0 / 9, Median: 4, Min: 1, Max: 9, Unit: "mg/dL"},
		},
		{
			name: "even count",
			rs:   series("mg/dL", 2, 4, 4, 4, 5, 5, 7, 9),
			want: Stats{Count: 8, Mean: 5, Median: 4.5, StdDev: 2, Min: 2, Max: 9, Unit: "mg/dL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.rs)
			if got.Count != tt.want.Count || got.Unit != tt.want.Unit {
				t.Fatalf("Summarize() = %+v, want %+v", got, tt.want)
			}
			if !almostEqual(got.Mean, tt.want.Mean) || !almostEqual(got.Median, tt.want.Median) ||
				!almostEqual(got.Min, tt.want.Min) || !almostEqual(got.Max, tt.want.Max) {
				t.Errorf("Summarize() = %+v, want %+v", got, tt.want)
			}
			if tt.want.StdDev != 0 && !almostEqual(got.StdDev, tt.want.StdDev) {
				t.Errorf("StdDev = %v, want %v", got.StdDev, tt.want.StdDev)
			}
		})
	}
}

func TestSummarizeConvertsUnits(t *testing.T) {
	rs := []Reading{
		{Timestamp: t0, Value: 90, Unit: "mg/dL"},
		{Timestamp: t0.Add(5 * time.Minute), Value: 10, Unit: "mmol/L"},
		{Timestamp: t0.Add(10 * time.Minute), Value: 72, Unit: "bpm"},
	}
	got := Summarize(rs)
	if got.Count != 2 {
		t.Fatalf("Count = %d, want 2 (unconvertible reading skipped)", got.Count)
	}
	if got.Unit != "mg/dL" {
		t.Errorf("Unit = %q, want mg/dL", got.Unit)
	}
	if got.Max < 180 || got.Max > 181 {
		t.Errorf("Max = %v, want 10 mmol/L converted to about 180 mg/dL", got.Max)
	}
}

func TestTimeInRange(t *testing.T) {
	tests := []struct {
		name                string
		values              []float64
		below, within, over float64
	}{
		{"all in range", []float64{70, 100, 180}, 0, 100, 0},
		{"bounds inclusive", []float64{69.9, 70, 180, 180.1}, 25, 50, 25},
		{"mixed", []float64{50, 60, 100, 120, 150, 200, 250, 300, 110, 90}, 20, 50, 30},
		{"thirds", []float64{50, 100, 200}, 100.0 / 3, 100.0 / 3, 100.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeInRange(series("mg/dL", tt.values...), 70, 180)
			if got.Count != len(tt.values) {
				t.Errorf("Count = %d, want %d", got.Count, len(tt.values))
			}
			if !almostEqual(got.BelowPct, tt.below) || !almostEqual(got.InRangePct, tt.within) || !almostEqual(got.AbovePct, tt.over) {
				t.Errorf("TimeInRange() = %+v, want %v/%v/%v", got, tt.below, tt.within, tt.over)
			}
			if sum := got.BelowPct + got.InRangePct + got.AbovePct; math.Abs(sum-100) > tolerance {
				t.Errorf("percentages sum to %v, want 100", sum)
			}
		})
	}

	if got := TimeInRange(nil, 70, 180); got != (TIR{}) {
		t.Errorf("TimeInRange(nil) = %+v, want zero", got)
	}
}

func TestTimeInRangeInConvertsToBoundUnit(t *testing.T) {
	// The series opens with an mmol/L reading.
	rs := series("mg/dL", 3.5, 110, 11, 150)
	rs[0].Unit = "mmol/L" // about 63 mg/dL
	rs[2].Unit = "mmol/L" // about 198 mg/dL

	tests := []struct {
		name      string
		low, high float64
		unit      string
	}{
		{"mg/dL band", 70, 180, "mg/dL"},
		{"mmol/L band", 3.9, 10, "mmol/L"},
		{"alias", 70, 180, "mg/dl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeInRangeIn(rs, tt.low, tt.high, tt.unit)
			if got.Count != 4 {
				t.Fatalf("Count = %d, want 4", got.Count)
			}
			if !almostEqual(got.BelowPct, 25) || !almostEqual(got.InRangePct, 50) || !almostEqual(got.AbovePct, 25) {
				t.Errorf("TimeInRangeIn() = %+v, want 25/50/25", got)
			}
		})
	}

	bpm := append(rs, Reading{Timestamp: t0.Add(time.Hour), Value: 72, Unit: "bpm"})
	if got := TimeInRangeIn(bpm, 70, 180, "mg/dL"); got.Count != 4 {
		t.Errorf("Count with an unconvertible reading = %d, want 4", got.Count)
	}
}

func TestGlucoseIndices(t *testing.T) {
	tests := []struct {
		mean     float64
		a1c, gmi float64
	}{
		{154, (154 + 46.7) / 28.7, 3.31 + 0.02392*154},
		{100, 146.7 / 28.7, 5.702},
	}
	for _, tt := range tests {
		if got := EstimateA1C(tt.mean); !almostEqual(got, tt.a1c) {
			t.Errorf("EstimateA1C(%v) = %v, want %v", tt.mean, got, tt.a1c)
		}
		if got := GMI(tt.mean); !almostEqual(got, tt.gmi) {
			t.Errorf("GMI(%v) = %v, want %v", tt.mean, got, tt.gmi)
		}
	}
	// 154 mg/dL is the textbook 7% A1c.
	if got := EstimateA1C(154); math.Abs(got-7) > 0.01 {
		t.Errorf("EstimateA1C(154) = %v, want about 7", got)
	}
}
