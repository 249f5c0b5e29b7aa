// Package logapi provides a client for the external log source API the
// relay polls. The source is rate limited; the client enforces a local
// request budget and classifies failures as transient or terminal.
package logapi

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the log source rejected credentials. Terminal for any
// subscription using this client; retrying cannot succeed.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("log source rejected credentials: %s", e.Message)
}

// RateLimitError means the source signalled throttling. The relay handles
// it by waiting for the next regular poll; no separate backoff state.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("log source rate limited (retry after %s)", e.RetryAfter)
}

// APIError represents any other non-2xx response from the log source.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("log source API error: %s (status: %d)", e.Message, e.StatusCode)
}

// Classification buckets a query failure for the relay's state machine.
type Classification int

const (
	// ClassRetry covers network errors, 5xx, malformed payloads and rate
	// limiting: the subscription stays open and the next scheduled poll
	// is attempted.
	ClassRetry Classification = iota
	// ClassTerminalAuth covers credential rejection: the subscription is
	// terminated immediately with an explicit error event.
	ClassTerminalAuth
)

// Classify maps a query error to relay behaviour. Behaviour is decided
// here, explicitly, rather than inferred from what a handler declines
// to do.
func Classify(err error) Classification {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return ClassTerminalAuth
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == 401 || apiErr.StatusCode == 403) {
		return ClassTerminalAuth
	}
	return ClassRetry
}
