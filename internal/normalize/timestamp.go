// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned for values that cannot be read as a point
// in time.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e10 seconds is in the year 2286; 1e10 milliseconds is April 1970.
const epochMillisThreshold = 1e10

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts a time.Time, an ISO-8601 string or a Unix epoch in
// seconds or milliseconds into UTC truncated to the millisecond. Strings
// without a zone are read as UTC.
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero time", ErrInvalidTimestamp)
		}
		return canonicalTime(t), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil", ErrInvalidTimestamp)
		}
		return ParseTimestamp(*t)
	case string:
		return parseTimestampString(t)
	case json.Number:
		return parseTimestampString(t.String())
	case int:
		return fromEpoch(float64(t))
	case int64:
		return fromEpoch(float64(t))
	case float64:
		return fromEpoch(t)
	case nil:
		return time.Time{}, fmt.Errorf("%w: missing", ErrInvalidTimestamp)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return canonicalTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

func fromEpoch(n float64) (time.Time, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return time.Time{}, fmt.Errorf("%w: epoch %v", ErrInvalidTimestamp, n)
	}
	if n > epochMillisThreshold {
		return canonicalTime(time.UnixMilli(int64(n))), nil
	}
	sec, frac := math.Modf(n)
	return canonicalTime(time.Unix(int64(sec), int64(frac*1e9))), nil
}

func canonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
