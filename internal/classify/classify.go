// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package classify

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tomtom215/vitalsync/internal/normalize"
)

// Errors that know their own taxonomy code.
type coder interface {
	ErrorCode() string
}

// Errors produced from an HTTP response.
type statusCoder interface {
	HTTPStatus() int
}

// Errors that carry a provider supplied retry hint.
type retryHinter interface {
	RetryAfterHint() time.Duration
}

// Classify maps an arbitrary error onto the taxonomy. Explicit codes and
// typed errors are matched first, then the message is scanned for
// keywords, and anything left over is an UNKNOWN_ERROR from the provider.
func Classify(err error, provider string) Classification {
	if err == nil {
		return Classification{}
	}

	var ce *Error
	if errors.As(err, &ce) {
		c := ce.Classification
		if c.Provider == "" {
			c.Provider = provider
		}
		return c
	}

	c, ok := classifyTyped(err, provider)
	if !ok {
		c = ClassifyMessage(err.Error(), provider)
	}
	c.Technical = err.Error()

	var hinter retryHinter
	if errors.As(err, &hinter) {
		if d := hinter.RetryAfterHint(); d > 0 {
			c.RetryAfter = d
		}
	}
	return c
}

func classifyTyped(err error, provider string) (Classification, bool) {
	var cd coder
	if errors.As(err, &cd) && KnownCode(cd.ErrorCode()) {
		return FromCode(cd.ErrorCode(), provider), true
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() >= 400 {
		return ClassifyStatus(sc.HTTPStatus(), err.Error(), provider), true
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return FromCode(CodeCircuitOpen, provider), true
	case errors.Is(err, context.DeadlineExceeded):
		return FromCode(CodeNetworkTimeout, provider), true
	case errors.Is(err, context.Canceled):
		return FromCode(CodeInternalError, provider), true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return FromCode(CodeConnectionReset, provider), true
	case errors.Is(err, syscall.ECONNREFUSED):
		return FromCode(CodeConnectionRefused, provider), true
	case errors.Is(err, normalize.ErrInvalidTimestamp), errors.Is(err, normalize.ErrUnknownConversion):
		return FromCode(CodeInvalidData, provider), true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FromCode(CodeDNSFailure, provider), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FromCode(CodeNetworkTimeout, provider), true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return FromCode(CodeConnectionRefused, provider), true
		}
		return FromCode(CodeConnectionReset, provider), true
	}
	return Classification{}, false
}

// ClassifyStatus classifies an HTTP error response. body is scanned to
// tell expired tokens from invalid ones.
func ClassifyStatus(status int, body, provider string) Classification {
	lower := strings.ToLower(body)
	var code string
	switch {
	case status == 401:
		if strings.Contains(lower, "expired") {
			code = CodeTokenExpired
		} else {
			code = CodeTokenInvalid
		}
	case status == 403:
		code = CodeInsufficientScope
	case status == 429:
		code = CodeRateLimited
	case status == 408, status == 504:
		code = CodeProviderTimeout
	case status == 502, status == 503:
		code = CodeProviderUnavailable
	case status >= 500:
		code = CodeProviderError
	case status == 400 && strings.Contains(lower, "invalid_grant"):
		code = CodeTokenRefreshFailed
	case status >= 400:
		code = CodeBadRequest
	default:
		code = CodeUnknownError
	}
	c := FromCode(code, provider)
	c.StatusCode = status
	return c
}

type keywordRule struct {
	code string
	all  []string // every term must appear
	any  []string // at least one term must appear
}

// keywordRules are evaluated in order; the first match wins.
var keywordRules = []keywordRule{
	{code: CodeTokenExpired, all: []string{"token"}, any: []string{"expired", "expiry", "has expired"}},
	{code: CodeTokenRefreshFailed, any: []string{"invalid_grant", "refresh failed", "failed to refresh", "refresh token"}},
	{code: CodeInsufficientScope, any: []string{"insufficient scope", "insufficient_scope", "forbidden", "permission denied", "not permitted", "access denied"}},
	{code: CodeTokenInvalid, any: []string{"unauthorized", "unauthorised", "invalid token", "invalid_token", "authentication failed", "not authenticated"}},
	{code: CodeRateLimited, any: []string{"rate limit", "rate-limit", "ratelimit", "too many requests", "quota exceeded"}},
	{code: CodeProviderTimeout, any: []string{"gateway timeout", "gateway time-out"}},
	{code: CodeProviderUnavailable, any: []string{"service unavailable", "bad gateway", "maintenance"}},
	{code: CodeProviderError, any: []string{"internal server error"}},
	{code: CodeConnectionReset, any: []string{"econnreset", "connection reset", "broken pipe", "unexpected eof"}},
	{code: CodeConnectionRefused, any: []string{"econnrefused", "connection refused", "network is unreachable", "no route to host"}},
	{code: CodeDNSFailure, any: []string{"enotfound", "no such host", "dns"}},
	{code: CodeNetworkTimeout, any: []string{"etimedout", "timeout", "timed out", "deadline exceeded"}},
	{code: CodeCircuitOpen, any: []string{"circuit breaker is open", "circuit open", "breaker open", "too many requests in half-open"}},
	{code: CodeMissingConfiguration, any: []string{"not configured", "missing configuration", "missing secret", "no secret", "missing client"}},
	{code: CodeInvalidData, any: []string{"malformed", "invalid character", "cannot unmarshal", "invalid data", "out of range", "invalid timestamp"}},
	{code: CodeInternalError, any: []string{"database", "sql:", "nil pointer", "panic"}},
}

var statusInText = regexp.MustCompile(`\b([45]\d\d)\b`)

// ClassifyMessage classifies free text such as a provider error string.
func ClassifyMessage(msg, provider string) Classification {
	lower := strings.ToLower(msg)
	for _, rule := range keywordRules {
		if rule.matches(lower) {
			c := FromCode(rule.code, provider)
			c.Technical = msg
			return c
		}
	}
	if m := statusInText.FindStringSubmatch(msg); m != nil {
		status, _ := strconv.Atoi(m[1])
		c := ClassifyStatus(status, msg, provider)
		c.Technical = msg
		return c
	}
	c := FromCode(CodeUnknownError, provider)
	c.Technical = msg
	return c
}

func (r keywordRule) matches(lower string) bool {
	for _, term := range r.all {
		if !strings.Contains(lower, term) {
			return false
		}
	}
	if len(r.any) == 0 {
		return true
	}
	for _, term := range r.any {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
