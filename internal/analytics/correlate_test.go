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

// daily builds one reading per day from t0, at the given hour.
func daily(hour int, values ...float64) []Reading {
	out := make([]Reading, len(values))
	for i, v := range values {
		out[i] = Reading{Timestamp: t0.AddDate(0, 0, i).Add(time.Duration(hour) * time.Hour), Value: v}
	}
	return out
}

func TestStrengthOf(t *testing.T) {
	tests := []struct {
		r    float64
		want Strength
	}{
		{0.95, StrengthStrong},
		{-0.71, StrengthStrong},
		{0.7, StrengthModerate},
		{-0.5, StrengthModerate},
		{0.4, StrengthWeak},
		{0.21, StrengthWeak},
		{0.2, StrengthNone},
		{0, StrengthNone},
	}
	for _, tt := range tests {
		if got := StrengthOf(tt.r); got != tt.want {
			t.Errorf("StrengthOf(%v) = %s, want %s", tt.r, got, tt.want)
		}
	}
}

func TestCorrelate(t *testing.T) {
	tests := []struct {
		name         string
		a, b         []Reading
		wantN        int
		wantR        float64
		wantStrength Strength
	}{
		{
			name:         "perfect positive",
			a:            daily(8, 1, 2, 3, 4, 5),
			b:            daily(20, 10, 20, 30, 40, 50),
			wantN:        5,
			wantR:        1,
			wantStrength: StrengthStrong,
		},
		{
			name:         "perfect negative",
			a:            daily(8, 1, 2, 3, 4),
			b:            daily(9, 8, 6, 4, 2),
			wantN:        4,
			wantR:        -1,
			wantStrength: StrengthStrong,
		},
		{
			name:         "too few shared days",
			a:            daily(8, 1, 2),
			b:            daily(8, 3, 4, 5, 6),
			wantN:        2,
			wantStrength: StrengthNone,
		},
		{
			name:         "constant series",
			a:            daily(8, 5, 5, 5, 5),
			b:            daily(8, 1, 2, 3, 4),
			wantN:        4,
			wantStrength: StrengthNone,
		},
		{
			name:         "no overlap",
			a:            daily(8, 1, 2, 3),
			b:            nil,
			wantN:        0,
			wantStrength: StrengthNone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Correlate(tt.a, tt.b)
			if got.N != tt.wantN || got.Strength != tt.wantStrength {
				t.Errorf("Correlate() = %+v, want N=%d strength=%s", got, tt.wantN, tt.wantStrength)
			}
			if math.Abs(got.R-tt.wantR) > 1e-9 {
				t.Errorf("R = %v, want %v", got.R, tt.wantR)
			}
		})
	}
}

func TestCorrelateUsesDailyMeans(t *testing.T) {
	// Two readings on each day of a; their means are 2, 4, 6, 8.
	var a []Reading
	for i, pair := range [][2]float64{{1, 3}, {3, 5}, {5, 7}, {7, 9}} {
		day := t0.AddDate(0, 0, i)
		a = append(a,
			Reading{Timestamp: day.Add(time.Hour), Value: pair[0]},
			Reading{Timestamp: day.Add(23 * time.Hour), Value: pair[1]},
		)
	}
	// b has an extra day that a lacks; it must not count.
	b := daily(12, 1, 2, 3, 4, 100)

	got := Correlate(a, b)
	if got.N != 4 {
		t.Fatalf("N = %d, want 4 shared days", got.N)
	}
	if math.Abs(got.R-1) > 1e-9 {
		t.Errorf("R = %v, want 1", got.R)
	}
}

func TestCorrelateIsDeterministic(t *testing.T) {
	a := daily(8, 101.3, 87.9, 143.2, 99.01, 120.7, 77.7, 133.3, 90.1, 111.11, 150.5, 95.4, 102.6)
	b := daily(20, 7.1, 6.4, 9.9, 6.93, 8.2, 5.5, 9.1, 6.6, 7.77, 10.2, 6.1, 7.3)

	want := Correlate(a, b)
	for i := 0; i < 50; i++ {
		if got := Correlate(a, b); math.Float64bits(got.R) != math.Float64bits(want.R) {
			t.Fatalf("run %d: R = %v, want bit-identical %v", i, got.R, want.R)
		}
	}
}
