package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is returned by operations attempted after the reader was closed.
var ErrClosed = errors.New("reader is closed")

// ErrRangeNotSupported means the resource returned full content instead of
// partial content for a non-zero resume offset. Restarting from zero would
// silently re-deliver the already-consumed prefix, so this is fatal.
var ErrRangeNotSupported = errors.New("resource does not support range requests, cannot resume")

// ErrAttemptTimeout means a single connect or read attempt exceeded the
// configured per-attempt timeout.
var ErrAttemptTimeout = errors.New("attempt timed out")

// ErrPrematureEOF means the connection ended before the declared total length
// was delivered. It is retryable: the server or a middlebox closed the
// connection early.
var ErrPrematureEOF = errors.New("connection closed before end of resource")

// StatusError is a non-2xx response from the remote resource.
type StatusError struct {
	StatusCode int
	URL        string
}

// Error ...
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d (%s) from %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Retryable reports whether the status indicates a transient server-side
// condition. Server errors and rate limiting are retryable, client errors are
// not.
func (e *StatusError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// BudgetExceededError is the terminal error after the reconnect budget is
// exhausted. It wraps the last underlying retryable error.
type BudgetExceededError struct {
	Attempts int
	Err      error
}

// Error ...
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("reconnect budget exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap ...
func (e *BudgetExceededError) Unwrap() error {
	return e.Err
}

// isRetryable decides whether a failed connect or read attempt may be retried
// by reconnecting at the current offset. Client-side HTTP errors, missing
// range support and cancellation are final, everything else (resets, DNS
// failures, timeouts, 5xx responses) is treated as transient.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRangeNotSupported) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
