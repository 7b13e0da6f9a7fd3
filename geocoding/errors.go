// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GeocodingError describes why a single provider could not produce a result.
type GeocodingError struct {
	Type     ErrorType
	Provider string
	Message  string
	Err      error
}

// ErrorType classifies provider failures.
type ErrorType int

const (
	// ErrorTypeUnknown unclassified failure.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeRateLimit provider throttled the request.
	ErrorTypeRateLimit
	// ErrorTypeQuotaExceeded quota exhausted or access denied.
	ErrorTypeQuotaExceeded
	// ErrorTypeTimeout the provider did not answer within its timeout.
	ErrorTypeTimeout
	// ErrorTypeNotFound nothing usable at the requested point.
	ErrorTypeNotFound
	// ErrorTypeInvalidRequest the provider rejected the request.
	ErrorTypeInvalidRequest
	// ErrorTypeNetworkError transport failure or upstream unavailable.
	ErrorTypeNetworkError
	// ErrorTypeBadResponse the body could not be decoded.
	ErrorTypeBadResponse
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnknown:        "unknown",
	ErrorTypeRateLimit:      "rate_limit",
	ErrorTypeQuotaExceeded:  "quota_exceeded",
	ErrorTypeTimeout:        "timeout",
	ErrorTypeNotFound:       "not_found",
	ErrorTypeInvalidRequest: "invalid_request",
	ErrorTypeNetworkError:   "network",
	ErrorTypeBadResponse:    "bad_response",
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("ErrorType(%d)", int(t))
}

func (e *GeocodingError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *GeocodingError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether err is a throttling failure.
func IsRateLimitError(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type == ErrorTypeRateLimit
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429")
}

// IsQuotaExceededError reports whether err is a quota failure.
func IsQuotaExceededError(err error) bool {
	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type == ErrorTypeQuotaExceeded
	}

	// Google Maps reports quota problems in the status field
	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "over_query_limit") ||
		strings.Contains(errStr, "quota exceeded")
}

// IsTimeoutError reports whether err is a timeout.
func IsTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var geoErr *GeocodingError
	if errors.As(err, &geoErr) {
		return geoErr.Type == ErrorTypeTimeout
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

var statusTypes = map[int]ErrorType{
	http.StatusTooManyRequests:    ErrorTypeRateLimit,
	http.StatusForbidden:          ErrorTypeQuotaExceeded,
	http.StatusUnauthorized:       ErrorTypeQuotaExceeded,
	http.StatusBadRequest:         ErrorTypeInvalidRequest,
	http.StatusNotFound:           ErrorTypeNotFound,
	http.StatusServiceUnavailable: ErrorTypeNetworkError,
	http.StatusBadGateway:         ErrorTypeNetworkError,
	http.StatusGatewayTimeout:     ErrorTypeNetworkError,
}

// maxBodySnippet bounds the part of an error body kept in the message.
const maxBodySnippet = 120

// ClassifyHTTPError maps a non-2xx status to a GeocodingError. The start of
// body is kept in the message.
func ClassifyHTTPError(statusCode int, body string) *GeocodingError {
	msg := fmt.Sprintf("HTTP %d %s", statusCode, http.StatusText(statusCode))

	if snippet := strings.Join(strings.Fields(body), " "); snippet != "" {
		if r := []rune(snippet); len(r) > maxBodySnippet {
			snippet = string(r[:maxBodySnippet]) + "…"
		}

		msg += ": " + snippet
	}

	return &GeocodingError{Type: statusTypes[statusCode], Message: msg}
}

// classifyTransportError wraps an error returned by the HTTP client.
func classifyTransportError(provider string, err error) *GeocodingError {
	if IsTimeoutError(err) {
		return &GeocodingError{
			Type:     ErrorTypeTimeout,
			Provider: provider,
			Message:  "provider timed out",
			Err:      err,
		}
	}

	return &GeocodingError{
		Type:     ErrorTypeNetworkError,
		Provider: provider,
		Message:  "request failed",
		Err:      err,
	}
}
