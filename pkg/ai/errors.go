package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx response from a remote embedding API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("embedding api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding api error (status %d)", e.StatusCode)
}

// Transient reports whether the failure is worth retrying: rate limits and
// server-side errors, but never client errors.
func (e *APIError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// DimensionMismatchError means the remote provider returned a vector whose
// length does not match the configured dimension. This is a deployment
// misconfiguration between the embedding model and the vector column width;
// it is fatal and never retried.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf(
		"embedding dimension mismatch: provider returned %d, configured dimension is %d; "+
			"fix the embedding model or migrate the vector column", e.Got, e.Want)
}

// IsTransient classifies an embed failure as retryable. Timeouts and
// temporary network errors qualify; a cancelled parent context does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
