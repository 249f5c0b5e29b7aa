// Package queueapi provides a client for the external job queue service
// that executes pipeline steps. This package centralizes all queue API
// interactions for the application.
package queueapi

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError represents an error response from the queue API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("queue API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// SubmissionError means the queue rejected a start request outright
// (e.g. malformed params). It is surfaced to the caller immediately and
// never retried.
type SubmissionError struct {
	JobName string
	Reason  string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission rejected for %q: %s", e.JobName, e.Reason)
}

// CancelError means a cancel request failed. The underlying job state is
// left unchanged; cancellation is not assumed to have taken effect.
type CancelError struct {
	JobID  string
	Reason string
}

func (e *CancelError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("cancel-all request failed: %s", e.Reason)
	}
	return fmt.Sprintf("cancel request failed for job %s: %s", e.JobID, e.Reason)
}

// IsTransient reports whether an error from the queue API is expected to
// recover on its own. The status poll loop absorbs every error and retries
// at the same interval regardless; this classification only controls how
// loudly the failure is logged.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Server-side failures and throttling recover on their own;
		// persistent client errors usually mean misconfiguration.
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429 || apiErr.StatusCode == 408
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// Malformed payloads and other decode failures count as transient:
	// a single bad response never drives a state transition.
	return true
}
