package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// HTTPError is a non-2xx response from the API.
type HTTPError struct {
	StatusCode int
	Endpoint   string
	Message    string

	// RetryAfter is the server-requested wait, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d (%s): %s", e.Endpoint, e.StatusCode, e.Reason(), e.Message)
}

// Class returns the error classification used for retry decisions.
func (e *HTTPError) Class() ErrorClass {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case e.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// PermissionDenied reports 401/403 responses: the token lacks the scope for
// this object type.
func (e *HTTPError) PermissionDenied() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// NotFound reports 404 responses: the object type does not exist for the account.
func (e *HTTPError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// RateLimited reports 429 responses.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Reason returns a short human-readable diagnosis of the status.
func (e *HTTPError) Reason() string {
	switch {
	case e.PermissionDenied():
		return "permission denied"
	case e.NotFound():
		return "not found"
	case e.RateLimited():
		return "rate limited"
	case e.StatusCode >= 500:
		return "server error"
	default:
		return "client error"
	}
}

// TimeoutError is returned when a request exceeds the per-request timeout.
type TimeoutError struct {
	Endpoint string
	Timeout  time.Duration
	Err      error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("GET %s: timed out after %s", e.Endpoint, e.Timeout)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NetworkError is a transport failure (connection refused, reset, DNS).
type NetworkError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("GET %s: network error: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// classOf classifies an attempt error. Unknown errors get an empty class
// and are never retried.
func classOf(err error) ErrorClass {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Class()
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return ErrorClassTimeout
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	return ""
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	case ErrorClassTimeout:
		// A timed-out page already cost the full timeout; fail the object instead.
		return false
	default:
		return false
	}
}
