// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Canonical unit spellings.
const (
	UnitBPM     = "bpm"
	UnitMillis  = "ms"
	UnitSeconds = "s"
	UnitMinutes = "min"
	UnitHours   = "hours"
	UnitMgDL    = "mg/dL"
	UnitMmolL   = "mmol/L"
	UnitKg      = "kg"
	UnitLb      = "lb"
	UnitGram    = "g"
	UnitKm      = "km"
	UnitMile    = "mi"
	UnitMeter   = "m"
	UnitCelsius = "°C"
	UnitFahr    = "°F"
	UnitKcal    = "kcal"
	UnitKJ      = "kJ"
	UnitPercent = "%"
	UnitCount   = "count"
	UnitBreaths = "breaths/min"
	UnitMmHg    = "mmHg"
	UnitScore   = "score"
)

// Conversion factors.
const (
	MgDLPerMmolL = 18.0182
	KgPerLb      = 0.453592
	KmPerMile    = 1.60934
	KJPerKcal    = 4.184
)

// ErrUnknownConversion is returned when no factor links two units.
var ErrUnknownConversion = errors.New("unknown unit conversion")

var unitAliases = map[string]string{
	"bpm": UnitBPM, "beats/min": UnitBPM, "count/min": UnitBPM, "beats per minute": UnitBPM,
	"ms": UnitMillis, "millisecond": UnitMillis, "milliseconds": UnitMillis,
	"s": UnitSeconds, "sec": UnitSeconds, "secs": UnitSeconds, "second": UnitSeconds, "seconds": UnitSeconds,
	"min": UnitMinutes, "mins": UnitMinutes, "minute": UnitMinutes, "minutes": UnitMinutes,
	"h": UnitHours, "hr": UnitHours, "hrs": UnitHours, "hour": UnitHours, "hours": UnitHours,
	"mg/dl": UnitMgDL, "mgdl": UnitMgDL,
	"mmol/l": UnitMmolL, "mmol": UnitMmolL, "mmoll": UnitMmolL,
	"kg": UnitKg, "kgs": UnitKg, "kilogram": UnitKg, "kilograms": UnitKg,
	"lb": UnitLb, "lbs": UnitLb, "pound": UnitLb, "pounds": UnitLb,
	"g": UnitGram, "gram": UnitGram, "grams": UnitGram,
	"km": UnitKm, "kilometer": UnitKm, "kilometers": UnitKm, "kilometre": UnitKm, "kilometres": UnitKm,
	"mi": UnitMile, "mile": UnitMile, "miles": UnitMile,
	"m": UnitMeter, "meter": UnitMeter, "meters": UnitMeter, "metre": UnitMeter, "metres": UnitMeter,
	"°c": UnitCelsius, "c": UnitCelsius, "degc": UnitCelsius, "celsius": UnitCelsius,
	"°f": UnitFahr, "f": UnitFahr, "degf": UnitFahr, "fahrenheit": UnitFahr,
	"kcal": UnitKcal, "cal": UnitKcal, "calories": UnitKcal, "kilocalories": UnitKcal,
	"kj": UnitKJ, "kilojoules": UnitKJ,
	"%": UnitPercent, "percent": UnitPercent, "pct": UnitPercent,
	"count": UnitCount, "steps": UnitCount,
	"breaths/min": UnitBreaths, "brpm": UnitBreaths, "rpm": UnitBreaths,
	"mmhg": UnitMmHg,
	"score": UnitScore, "points": UnitScore,
}

// CanonicalUnit folds common spellings of a unit onto one form. Unknown
// units are returned trimmed but otherwise unchanged.
func CanonicalUnit(u string) string {
	trimmed := strings.TrimSpace(u)
	if c, ok := unitAliases[strings.ToLower(trimmed)]; ok {
		return c
	}
	return trimmed
}

type unitPair struct{ from, to string }

var conversions = map[unitPair]func(float64) float64{
	{UnitMmolL, UnitMgDL}:    func(v float64) float64 { return v * MgDLPerMmolL },
	{UnitMgDL, UnitMmolL}:    func(v float64) float64 { return v / MgDLPerMmolL },
	{UnitLb, UnitKg}:         func(v float64) float64 { return v * KgPerLb },
	{UnitKg, UnitLb}:         func(v float64) float64 { return v / KgPerLb },
	{UnitGram, UnitKg}:       func(v float64) float64 { return v / 1000 },
	{UnitMile, UnitKm}:       func(v float64) float64 { return v * KmPerMile },
	{UnitKm, UnitMile}:       func(v float64) float64 { return v / KmPerMile },
	{UnitMeter, UnitKm}:      func(v float64) float64 { return v / 1000 },
	{UnitFahr, UnitCelsius}:  func(v float64) float64 { return (v - 32) * 5 / 9 },
	{UnitCelsius, UnitFahr}:  func(v float64) float64 { return v*9/5 + 32 },
	{UnitMinutes, UnitHours}: func(v float64) float64 { return v / 60 },
	{UnitSeconds, UnitHours}: func(v float64) float64 { return v / 3600 },
	{UnitMillis, UnitHours}:  func(v float64) float64 { return v / 3_600_000 },
	{UnitKJ, UnitKcal}:       func(v float64) float64 { return v / KJPerKcal },
}

// Convert converts v between units without rounding.
func Convert(v float64, from, to string) (float64, error) {
	f, t := CanonicalUnit(from), CanonicalUnit(to)
	if f == t {
		return v, nil
	}
	conv, ok := conversions[unitPair{f, t}]
	if !ok {
		return 0, fmt.Errorf("%w: %s to %s", ErrUnknownConversion, f, t)
	}
	return conv(v), nil
}

// Round rounds v half away from zero to places decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
