// Package stream implements the live log relay and its subscriber-side
// reconnection machinery: bounded backoff, event deduplication, ring
// buffering and the per-subscription polling state machine.
package stream

import (
	"math/rand"
	"time"
)

const (
	// DefaultBaseDelay is the first reconnect delay.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the exponential growth.
	DefaultMaxDelay = 30 * time.Second

	// jitterFraction randomizes each delay by ±25%.
	jitterFraction = 0.25
)

// BackoffPolicy computes reconnect delays with exponential growth, a hard
// cap and ±25% jitter: min(base * 2^attempt, max) ± 25%.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewBackoffPolicy returns the default policy (1s base, 30s cap).
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

// Delay returns the reconnect delay for the given attempt count. Attempt 0
// is the first retry after a failure. The result is always positive and
// never exceeds MaxDelay plus jitter.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	base := p.Base(attempt)

	jitter := float64(base) * jitterFraction * (rand.Float64()*2 - 1)
	delay := time.Duration(float64(base) + jitter)

	if delay <= 0 {
		delay = p.BaseDelay
	}
	return delay
}

// Base returns the un-jittered delay for the given attempt count:
// min(base * 2^attempt, max). Non-decreasing in attempt.
func (p *BackoffPolicy) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			// Doubling past the cap (or overflowing) pins at the cap.
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
