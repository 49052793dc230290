package ors

import (
	"fmt"
	"time"
)

// RateLimitError means the service answered 429
type RateLimitError struct {
	// RetryAfter is the server's hint, zero when absent
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ors: rate limited (retry after %s)", e.RetryAfter)
	}
	return "ors: rate limited"
}

// StatusError is any other non-200 answer
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ors: status %d", e.Code)
	}
	return fmt.Sprintf("ors: status %d: %s", e.Code, e.Body)
}

// TransientError covers timeouts, connection failures and responses that
// could not be used (malformed JSON, wrong shape, null cells).
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "ors: " + e.Reason
	}
	return fmt.Sprintf("ors: %s: %v", e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
