// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package classify

import (
	"strings"
	"time"
)

// Category is the coarse failure family a classification belongs to.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNetwork        Category = "network"
	CategoryRateLimit      Category = "rate_limit"
	CategoryDataQuality    Category = "data_quality"
	CategoryProviderAPI    Category = "provider_api"
	CategoryConfiguration  Category = "configuration"
	CategoryInternal       Category = "internal"
)

// Severity ranks how loudly a failure should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error codes.
const (
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeTokenRefreshFailed   = "TOKEN_REFRESH_FAILED"
	CodeInsufficientScope    = "INSUFFICIENT_SCOPE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeNetworkTimeout       = "NETWORK_TIMEOUT"
	CodeConnectionReset      = "CONNECTION_RESET"
	CodeConnectionRefused    = "CONNECTION_REFUSED"
	CodeDNSFailure           = "DNS_FAILURE"
	CodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout      = "PROVIDER_TIMEOUT"
	CodeProviderError        = "PROVIDER_ERROR"
	CodeBadRequest           = "BAD_REQUEST"
	CodeInvalidData          = "INVALID_DATA"
	CodeMissingConfiguration = "MISSING_CONFIGURATION"
	CodeCircuitOpen          = "CIRCUIT_OPEN"
	CodeInternalError        = "INTERNAL_ERROR"
	CodeUnknownError         = "UNKNOWN_ERROR"
)

// Classification is the structured result of classifying a failure. Message
// and Actions are written for end users; Technical keeps the raw error text
// for operators.
type Classification struct {
	Code       string        `json:"code"`
	Category   Category      `json:"category"`
	Severity   Severity      `json:"severity"`
	Retryable  bool          `json:"retryable"`
	Message    string        `json:"message"`
	Actions    []string      `json:"actions"`
	Technical  string        `json:"technical,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

type codeInfo struct {
	category  Category
	severity  Severity
	retryable bool
	message   string
	actions   []string
}

// catalog is the single table every classification is built from.
// "{provider}" in messages and actions is replaced with the provider name.
var catalog = map[string]codeInfo{
	CodeTokenExpired: {CategoryAuthentication, SeverityWarning, false,
		"Your {provider} authorization has expired.",
		[]string{"No action needed if access renews automatically", "Reconnect {provider} if syncing does not resume"}},
	CodeTokenInvalid: {CategoryAuthentication, SeverityError, false,
		"Your {provider} connection is no longer authorized.",
		[]string{"Reconnect your {provider} account"}},
	CodeTokenRefreshFailed: {CategoryAuthentication, SeverityError, false,
		"We could not renew access to {provider}.",
		[]string{"Reconnect your {provider} account"}},
	CodeInsufficientScope: {CategoryAuthorization, SeverityError, false,
		"{provider} did not grant access to the requested data.",
		[]string{"Reconnect and allow access to all requested data types", "Check the data sharing settings in the {provider} app"}},
	CodeRateLimited: {CategoryRateLimit, SeverityWarning, true,
		"{provider} is limiting requests right now.",
		[]string{"No action needed, syncing resumes automatically"}},
	CodeNetworkTimeout: {CategoryNetwork, SeverityWarning, true,
		"The request to {provider} timed out.",
		[]string{"No action needed, the sync will be retried shortly"}},
	CodeConnectionReset: {CategoryNetwork, SeverityWarning, true,
		"The connection to {provider} was interrupted.",
		[]string{"No action needed, the sync will be retried shortly"}},
	CodeConnectionRefused: {CategoryNetwork, SeverityWarning, true,
		"We could not reach {provider}.",
		[]string{"No action needed, the sync will be retried shortly"}},
	CodeDNSFailure: {CategoryNetwork, SeverityError, true,
		"We could not look up the address of {provider}.",
		[]string{"No action needed, the sync will be retried shortly", "Contact support if this persists"}},
	CodeProviderUnavailable: {CategoryProviderAPI, SeverityWarning, true,
		"{provider} is temporarily unavailable.",
		[]string{"No action needed, syncing resumes when {provider} recovers"}},
	CodeProviderTimeout: {CategoryProviderAPI, SeverityWarning, true,
		"{provider} took too long to respond.",
		[]string{"No action needed, the sync will be retried shortly"}},
	CodeProviderError: {CategoryProviderAPI, SeverityError, true,
		"{provider} reported an error while sending your data.",
		[]string{"No action needed, the sync will be retried", "Contact support if this persists"}},
	CodeBadRequest: {CategoryProviderAPI, SeverityError, false,
		"{provider} rejected the data request.",
		[]string{"Contact support if your data stops updating"}},
	CodeInvalidData: {CategoryDataQuality, SeverityInfo, false,
		"Some readings from {provider} could not be used.",
		[]string{"No action needed, the remaining readings were saved"}},
	CodeMissingConfiguration: {CategoryConfiguration, SeverityCritical, false,
		"Syncing with {provider} is not set up correctly.",
		[]string{"Contact support"}},
	CodeCircuitOpen: {CategoryProviderAPI, SeverityWarning, true,
		"{provider} is having problems, so syncing is paused for a few minutes.",
		[]string{"No action needed, syncing resumes automatically"}},
	CodeInternalError: {CategoryInternal, SeverityError, true,
		"Something went wrong on our side while syncing {provider}.",
		[]string{"No action needed, the sync will be retried", "Contact support if this persists"}},
	CodeUnknownError: {CategoryProviderAPI, SeverityError, true,
		"An unexpected problem occurred while syncing {provider}.",
		[]string{"No action needed, the sync will be retried", "Contact support if this persists"}},
}

// FromCode builds the classification for a known code. Unknown codes fall
// back to UNKNOWN_ERROR.
func FromCode(code, provider string) Classification {
	info, ok := catalog[code]
	if !ok {
		code = CodeUnknownError
		info = catalog[code]
	}
	label := provider
	if label == "" {
		label = "your provider"
	}
	actions := make([]string, len(info.actions))
	for i, a := range info.actions {
		actions[i] = fill(a, label)
	}
	return Classification{
		Code:      code,
		Category:  info.category,
		Severity:  info.severity,
		Retryable: info.retryable,
		Message:   capitalize(fill(info.message, label)),
		Actions:   actions,
		Provider:  provider,
	}
}

// KnownCode reports whether code is part of the taxonomy.
func KnownCode(code string) bool {
	_, ok := catalog[code]
	return ok
}

func fill(s, provider string) string {
	return strings.ReplaceAll(s, "{provider}", provider)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Error carries a classification together with the failure it describes.
type Error struct {
	Classification
	cause error
}

// New returns a classified error for code. cause may be nil.
func New(code, provider string, cause error) *Error {
	c := FromCode(code, provider)
	if cause != nil {
		c.Technical = cause.Error()
	}
	return &Error{Classification: c, cause: cause}
}

// Wrap classifies err and returns it as an *Error. Already classified
// errors are returned unchanged.
func Wrap(err error, provider string) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}
	return &Error{Classification: Classify(err, provider), cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// ErrorCode returns the taxonomy code.
func (e *Error) ErrorCode() string {
	return e.Code
}
