// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// TransportError indicates that no response reached the client after the
// retry budget was exhausted. The gateway returns it with a nil response;
// it never panics across the transport boundary.
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure after %d attempts: %s %s: %v", e.Attempts, e.Method, e.URL, e.Err)
}

// Unwrap exposes the underlying network error.
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError indicates a definitive 401/403 rejection that survived the
// token-refresh-and-retry cycle.
type AuthError struct {
	Status int
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected (HTTP %d)", e.Status)
}

// NotFoundError indicates a 404; never retried.
type NotFoundError struct {
	URL string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// RateLimitError indicates a 429 that survived backoff and retries.
type RateLimitError struct {
	Attempts int
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after %d attempts", e.Attempts)
}

// ServerError indicates a 5xx that survived backoff and retries.
type ServerError struct {
	Status int
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (HTTP %d)", e.Status)
}

// ValidationError indicates a malformed or unexpected payload shape.
// Validation errors surface immediately and are never retried.
type ValidationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unexpected payload: %s", e.Reason)
}

// Unwrap exposes the underlying decode error.
func (e *ValidationError) Unwrap() error { return e.Err }

// statusError maps a non-2xx response that the gateway handed back to the
// matching taxonomy error.
func statusError(resp *Response, url string) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{URL: url}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Attempts: resp.Attempts}
	case resp.StatusCode >= 500:
		return &ServerError{Status: resp.StatusCode}
	default:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
}

// IsAuthError reports whether err is a definitive authentication rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransportError reports whether err means the backend was unreachable.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
