// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package logging

import "strings"

const maxLogValueLen = 200

// SanitizeToken masks credential material, keeping the first and last four
// characters of long values.
//
//	SanitizeToken("eyJhbGciOiJIUzI1NiJ9.payload") -> "eyJh...load"
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeLogValue strips control characters from externally supplied
// strings (provider names, external user ids) and truncates them, so a
// crafted value cannot forge log lines.
func SanitizeLogValue(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if len(s) > maxLogValueLen {
		return s[:maxLogValueLen] + "..."
	}
	return s
}
