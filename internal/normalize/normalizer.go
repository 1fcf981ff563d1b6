// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

// Package normalize turns provider-specific readings into canonical metric
// records and scores their plausibility.
//
// Normalize is deterministic and has no side effects, so the webhook path
// and the pull path share it and its output can be tested in isolation.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/tomtom215/vitalsync/internal/models"
)

// RawReading is one value as a provider reported it.
type RawReading struct {
	Provider  string
	Name      string
	Value     float64
	Unit      string
	Timestamp interface{} // time.Time, ISO string or epoch seconds/millis
}

// Result is a normalized, quality-scored reading.
type Result struct {
	MetricType    string
	Value         float64
	Unit          string
	Timestamp     time.Time
	QualityScore  float64
	IsAnomaly     bool
	AnomalyReason string
}

// Normalize maps the reading's name to a canonical metric type, converts the
// value to the type's standard unit rounded to its precision, validates it
// against the plausible range and normalizes the timestamp.
//
// Out-of-range values are not errors: they come back with QualityScore 0
// and an anomaly reason. Errors are reserved for readings that cannot be
// keyed or converted at all.
func Normalize(r RawReading) (Result, error) {
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return Result{}, err
	}

	metricType := CanonicalName(r.Provider, r.Name)
	res := Result{MetricType: metricType, Timestamp: ts, QualityScore: 1}

	def, known := Lookup(metricType)
	if !known {
		res.Value = r.Value
		res.Unit = CanonicalUnit(r.Unit)
		if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			res.QualityScore = 0
			res.IsAnomaly = true
			res.AnomalyReason = fmt.Sprintf("%s value is not a finite number", metricType)
		}
		return res, nil
	}

	res.Unit = def.Unit
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		res.Value = 0
		res.QualityScore = 0
		res.IsAnomaly = true
		res.AnomalyReason = fmt.Sprintf("%s value is not a finite number", metricType)
		return res, nil
	}

	from := r.Unit
	if strings.TrimSpace(from) == "" {
		from = def.Unit
	}
	v, err := Convert(r.Value, from, def.Unit)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", metricType, err)
	}
	res.Value = Round(v, def.Precision)

	if res.Value < def.Min || res.Value > def.Max {
		res.QualityScore = 0
		res.IsAnomaly = true
		res.AnomalyReason = fmt.Sprintf("%s %s %s outside plausible range [%s, %s]",
			metricType, formatNumber(res.Value), def.Unit, formatNumber(def.Min), formatNumber(def.Max))
	}
	return res, nil
}

// Rejection records a reading that Normalize could not process.
type Rejection struct {
	Index int
	Name  string
	Err   error
}

// NormalizeAll normalizes a batch. Readings that fail are reported as
// rejections and never stop the rest of the batch.
func NormalizeAll(readings []RawReading) ([]Result, []Rejection) {
	results := make([]Result, 0, len(readings))
	var rejected []Rejection
	for i, r := range readings {
		res, err := Normalize(r)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Name: r.Name, Err: err})
			continue
		}
		results = append(results, res)
	}
	return results, rejected
}

// CanonicalName maps a provider metric name to a canonical type: first via
// the provider's table, then the shared alias table, then the slug itself.
func CanonicalName(provider, name string) string {
	if table, ok := providerNames[strings.ToLower(provider)]; ok {
		if t, ok := table[strings.ToLower(strings.TrimSpace(name))]; ok {
			return t
		}
	}
	slug := Slug(name)
	if _, ok := definitions[slug]; ok {
		return slug
	}
	if t, ok := genericNames[slug]; ok {
		return t
	}
	return slug
}

// Slug lowercases name, splits camelCase words and collapses every run of
// other characters into one underscore.
//
//	Slug("restingHeartRate") == "resting_heart_rate"
//	Slug("Body Fat %")       == "body_fat"
func Slug(name string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(name))
	pendingSep := false
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				pendingSep = true
			}
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingSep = true
		}
	}
	return b.String()
}

// Metric builds the stored record for a result. The id is derived from the
// uniqueness key so every path writing the same reading produces the same
// id.
func (r Result) Metric(userID, provider, rawPayloadID string, now time.Time) models.NormalizedMetric {
	key := strings.Join([]string{userID, provider, r.MetricType, r.Timestamp.UTC().Format(time.RFC3339Nano)}, "|")
	return models.NormalizedMetric{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		UserID:        userID,
		Provider:      provider,
		MetricType:    r.MetricType,
		Value:         r.Value,
		Unit:          r.Unit,
		Timestamp:     r.Timestamp,
		QualityScore:  r.QualityScore,
		IsAnomaly:     r.IsAnomaly,
		AnomalyReason: r.AnomalyReason,
		RawPayloadID:  rawPayloadID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Metrics builds the stored records for a batch of results.
func Metrics(results []Result, userID, provider, rawPayloadID string, now time.Time) []models.NormalizedMetric {
	ms := make([]models.NormalizedMetric, 0, len(results))
	for _, r := range results {
		ms = append(ms, r.Metric(userID, provider, rawPayloadID, now))
	}
	return ms
}
