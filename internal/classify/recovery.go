// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package classify

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Posture is the recovery behavior for a category of failures.
type Posture string

const (
	// PostureRetry retries with exponential backoff and jitter.
	PostureRetry Posture = "retry"
	// PostureRefresh renews credentials and retries once immediately.
	PostureRefresh Posture = "refresh_credentials"
	// PostureReauthorize stops and waits for the user to reconnect.
	PostureReauthorize Posture = "reauthorize"
	// PostureLogOnly records the failure and does nothing else.
	PostureLogOnly Posture = "log_only"
)

// jitterFraction is the share of the cap reserved for jitter once backoff
// has reached it.
const jitterFraction = 0.1

// Profile is the backoff configuration derived from a classification.
type Profile struct {
	Posture            Posture
	Base               time.Duration
	Cap                time.Duration
	MaxRetries         int
	RefreshCredentials bool
}

// Strategy returns the recovery profile for a classification. It is the
// only place retry budgets are defined; the scheduler and the webhook path
// both consult it.
func Strategy(c Classification) Profile {
	switch c.Category {
	case CategoryRateLimit:
		return Profile{Posture: PostureRetry, Base: 60 * time.Second, Cap: 30 * time.Minute, MaxRetries: 5}
	case CategoryNetwork:
		return Profile{Posture: PostureRetry, Base: 5 * time.Second, Cap: 10 * time.Minute, MaxRetries: 10}
	case CategoryProviderAPI:
		if c.Retryable {
			return Profile{Posture: PostureRetry, Base: 30 * time.Second, Cap: 30 * time.Minute, MaxRetries: 5}
		}
		return Profile{Posture: PostureLogOnly}
	case CategoryInternal:
		return Profile{Posture: PostureRetry, Base: 10 * time.Second, Cap: 5 * time.Minute, MaxRetries: 3}
	case CategoryAuthentication:
		if c.Code == CodeTokenExpired {
			return Profile{Posture: PostureRefresh, MaxRetries: 1, RefreshCredentials: true}
		}
		return Profile{Posture: PostureReauthorize}
	case CategoryAuthorization:
		return Profile{Posture: PostureReauthorize}
	default:
		return Profile{Posture: PostureLogOnly}
	}
}

// Delay returns the backoff before retry number attempt (0-based).
//
// Below the cap the delay is Base * 2^(attempt+u) for u in [0,1), so it
// always lies in [Base*2^attempt, Base*2^(attempt+1)). Once doubling would
// enter the top tenth of the cap, delays fall into successively narrower
// bands just under Cap. Consecutive attempts therefore never decrease and
// never exceed Cap, while two draws for the same attempt differ.
//
// rnd may be nil, in which case the shared source is used.
func (p Profile) Delay(attempt int, rnd *rand.Rand) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	u := float64FromSource(rnd)
	base := float64(p.Base)

	if p.Cap <= 0 {
		return time.Duration(base * math.Pow(2, float64(attempt)+u))
	}

	ceiling := float64(p.Cap)
	band := ceiling * jitterFraction
	limit := ceiling - band

	if base*math.Pow(2, float64(attempt+1)) <= limit {
		return time.Duration(base * math.Pow(2, float64(attempt)+u))
	}

	firstCapped := 0
	for firstCapped < 62 && base*math.Pow(2, float64(firstCapped+1)) <= limit {
		firstCapped++
	}
	k := float64(attempt - firstCapped)
	lo := ceiling - band/math.Pow(2, k)
	hi := ceiling - band/math.Pow(2, k+1)
	return time.Duration(lo + u*(hi-lo))
}

// DelayWithHint is Delay raised to at least retryAfter, still bounded by
// Cap.
func (p Profile) DelayWithHint(attempt int, retryAfter time.Duration, rnd *rand.Rand) time.Duration {
	d := p.Delay(attempt, rnd)
	if retryAfter > d {
		d = retryAfter
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// Retries reports whether the profile schedules backoff retries.
func (p Profile) Retries() bool {
	return p.Posture == PostureRetry && p.MaxRetries > 0
}

func float64FromSource(rnd *rand.Rand) float64 {
	if rnd == nil {
		return rand.Float64() //nolint:gosec // jitter, not security sensitive
	}
	return rnd.Float64()
}

// CountsAgainstProvider reports whether err should count as a provider
// failure for circuit breaking. Credential and data problems belong to a
// single user or reading and must not open a breaker shared by everyone.
func CountsAgainstProvider(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	c := Classify(err, "")
	switch c.Category {
	case CategoryNetwork, CategoryRateLimit, CategoryInternal:
		return true
	case CategoryProviderAPI:
		return c.Retryable && c.Code != CodeCircuitOpen
	default:
		return false
	}
}
