package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the fetcher.
var (
	// ErrAllKeysExhausted is returned when every API key in the pool
	// reported quota exhaustion within a single logical call. This is an
	// expected, recoverable-later condition: callers should present a
	// "try again later" state rather than a generic error.
	ErrAllKeysExhausted = errors.New("all api keys exhausted, try again later")
)

// UpstreamError represents a non-quota upstream failure: network errors,
// malformed responses, and unrelated 4xx/5xx statuses. These are never
// retried by the fetcher.
type UpstreamError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream error on %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("upstream error on %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}
