// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package analytics

import (
	"math"
	"slices"
	"time"
)

// Strength buckets the magnitude of a correlation coefficient.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
	StrengthNone     Strength = "none"
)

// minAlignedDays is the fewest shared days a coefficient is computed from.
const minAlignedDays = 3

// Correlation is Pearson's r over the days both series have readings.
type Correlation struct {
	R        float64  `json:"r"`
	N        int      `json:"n"`
	Strength Strength `json:"strength"`
}

// StrengthOf buckets |r|: above 0.7 strong, above 0.4 moderate, above 0.2
// weak, otherwise none.
func StrengthOf(r float64) Strength {
	switch a := math.Abs(r); {
	case a > 0.7:
		return StrengthStrong
	case a > 0.4:
		return StrengthModerate
	case a > 0.2:
		return StrengthWeak
	}
	return StrengthNone
}

// Correlate aligns a and b by UTC day, using each day's mean, and computes
// Pearson's r over the shared days. Fewer than three shared days or a
// constant series yields r = 0 and strength none.
func Correlate(a, b []Reading) Correlation {
	da, db := dailyMeans(a), dailyMeans(b)

	var days []time.Time
	for day := range da {
		if _, ok := db[day]; ok {
			days = append(days, day)
		}
	}
	// Summation order must not depend on map iteration.
	slices.SortFunc(days, time.Time.Compare)

	xs := make([]float64, len(days))
	ys := make([]float64, len(days))
	for i, day := range days {
		xs[i], ys[i] = da[day], db[day]
	}

	c := Correlation{N: len(xs), Strength: StrengthNone}
	if len(xs) < minAlignedDays {
		return c
	}
	r, ok := pearson(xs, ys)
	if !ok {
		return c
	}
	c.R = r
	c.Strength = StrengthOf(r)
	return c
}

// dailyMeans averages rs per UTC calendar day, in the first reading's unit.
func dailyMeans(rs []Reading) map[time.Time]float64 {
	if len(rs) == 0 {
		return nil
	}
	unit := rs[0].Unit
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, r := range rs {
		v, ok := convert(r, unit)
		if !ok {
			continue
		}
		day := r.Timestamp.UTC().Truncate(24 * time.Hour)
		sums[day] += v
		counts[day]++
	}
	out := make(map[time.Time]float64, len(sums))
	for day, s := range sums {
		out[day] = s / float64(counts[day])
	}
	return out
}

func pearson(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r)), true
}
