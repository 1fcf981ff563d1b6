// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package classify

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestStrategy(t *testing.T) {
	tests := []struct {
		code        string
		wantPosture Posture
		wantBase    time.Duration
		wantTries   int
		wantCap     time.Duration
	}{
		{CodeRateLimited, PostureRetry, 60 * time.Second, 5, 30 * time.Minute},
		{CodeConnectionReset, PostureRetry, 5 * time.Second, 10, 10 * time.Minute},
		{CodeProviderUnavailable, PostureRetry, 30 * time.Second, 5, 30 * time.Minute},
		{CodeInternalError, PostureRetry, 10 * time.Second, 3, 5 * time.Minute},
		{CodeTokenExpired, PostureRefresh, 0, 1, 0},
		{CodeTokenInvalid, PostureReauthorize, 0, 0, 0},
		{CodeInsufficientScope, PostureReauthorize, 0, 0, 0},
		{CodeMissingConfiguration, PostureLogOnly, 0, 0, 0},
		{CodeInvalidData, PostureLogOnly, 0, 0, 0},
		{CodeBadRequest, PostureLogOnly, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p := Strategy(FromCode(tt.code, "oura"))
			if p.Posture != tt.wantPosture || p.Base != tt.wantBase || p.MaxRetries != tt.wantTries || p.Cap != tt.wantCap {
				t.Errorf("Strategy(%s) = %+v", tt.code, p)
			}
		})
	}
	if !Strategy(FromCode(CodeTokenExpired, "")).RefreshCredentials {
		t.Error("TOKEN_EXPIRED should refresh credentials")
	}
}

func TestDelay_Monotonic(t *testing.T) {
	profiles := []Profile{
		Strategy(FromCode(CodeRateLimited, "")),
		Strategy(FromCode(CodeNetworkTimeout, "")),
		Strategy(FromCode(CodeProviderError, "")),
		Strategy(FromCode(CodeInternalError, "")),
		{Posture: PostureRetry, Base: time.Minute, Cap: time.Minute, MaxRetries: 5},
	}
	rnd := rand.New(rand.NewPCG(1, 2))

	for _, p := range profiles {
		for trial := 0; trial < 50; trial++ {
			var prev time.Duration
			for attempt := 0; attempt < 20; attempt++ {
				d := p.Delay(attempt, rnd)
				if d < prev {
					t.Fatalf("base %v: attempt %d delay %v < previous %v", p.Base, attempt, d, prev)
				}
				if d > p.Cap {
					t.Fatalf("base %v: attempt %d delay %v exceeds cap %v", p.Base, attempt, d, p.Cap)
				}
				prev = d
			}
		}
	}
}

func TestDelay_JitterDiffers(t *testing.T) {
	p := Strategy(FromCode(CodeNetworkTimeout, ""))
	rnd := rand.New(rand.NewPCG(7, 7))
	for attempt := 0; attempt < 8; attempt++ {
		a := p.Delay(attempt, rnd)
		b := p.Delay(attempt, rnd)
		if a == b {
			t.Errorf("attempt %d produced identical delays %v", attempt, a)
		}
	}
}

func TestDelay_Exponential(t *testing.T) {
	p := Profile{Posture: PostureRetry, Base: time.Second, Cap: time.Hour, MaxRetries: 5}
	rnd := rand.New(rand.NewPCG(3, 4))
	for attempt := 0; attempt < 5; attempt++ {
		d := p.Delay(attempt, rnd)
		lo := time.Second << attempt
		hi := time.Second << (attempt + 1)
		if d < lo || d >= hi {
			t.Errorf("attempt %d delay %v outside [%v, %v)", attempt, d, lo, hi)
		}
	}
}

func TestDelay_EdgeCases(t *testing.T) {
	if d := (Profile{}).Delay(3, nil); d != 0 {
		t.Errorf("zero base delay = %v, want 0", d)
	}
	p := Profile{Base: time.Second}
	if d := p.Delay(-1, nil); d < time.Second || d >= 2*time.Second {
		t.Errorf("negative attempt delay = %v, want first attempt range", d)
	}
	if d := p.Delay(10, nil); d < 1024*time.Second {
		t.Errorf("uncapped delay = %v, want at least 1024s", d)
	}
}

func TestDelayWithHint(t *testing.T) {
	p := Strategy(FromCode(CodeRateLimited, ""))
	rnd := rand.New(rand.NewPCG(5, 6))

	if d := p.DelayWithHint(0, 10*time.Minute, rnd); d != 10*time.Minute {
		t.Errorf("delay with 10m hint = %v, want 10m", d)
	}
	if d := p.DelayWithHint(0, 2*time.Hour, rnd); d != p.Cap {
		t.Errorf("delay with 2h hint = %v, want cap %v", d, p.Cap)
	}
	if d := p.DelayWithHint(0, time.Second, rnd); d < time.Minute {
		t.Errorf("small hint lowered delay to %v", d)
	}
}

func TestCountsAgainstProvider(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("pull: %w", context.Canceled), false},
		{"timeout", context.DeadlineExceeded, true},
		{"rate limited", &fakeHTTPError{status: 429}, true},
		{"server error", &fakeHTTPError{status: 500}, true},
		{"bad request", &fakeHTTPError{status: 400}, false},
		{"token invalid", &fakeHTTPError{status: 401}, false},
		{"forbidden", &fakeHTTPError{status: 403}, false},
		{"breaker open", gobreaker.ErrOpenState, false},
		{"internal", errors.New("sql: database is closed"), true},
		{"data", errors.New("malformed payload"), false},
	}
	for _, tt := range tests {
		if got := CountsAgainstProvider(tt.err); got != tt.want {
			t.Errorf("%s: CountsAgainstProvider = %v, want %v", tt.name, got, tt.want)
		}
	}
}
