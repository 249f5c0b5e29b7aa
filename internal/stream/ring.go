package stream

import (
	"sort"

	"github.com/ternarybob/specto/internal/models"
)

// DefaultRingSize is the live-mode event retention (last N events).
const DefaultRingSize = 500

// Ring is a bounded buffer of log events retained for live display.
// Append order is arrival order; batches across poll cycles are not
// globally timestamp-ordered, so Sorted() exists for consumers that want
// a chronological view.
//
// Not safe for concurrent use; the owning controller serializes access.
type Ring struct {
	capacity int
	events   []models.LogEvent
}

// NewRing creates a ring buffer with the given capacity. Non-positive
// capacity falls back to DefaultRingSize.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{
		capacity: capacity,
		events:   make([]models.LogEvent, 0, capacity),
	}
}

// Append adds events in arrival order, evicting the oldest entries once
// capacity is exceeded.
func (r *Ring) Append(events ...models.LogEvent) {
	r.events = append(r.events, events...)
	if overflow := len(r.events) - r.capacity; overflow > 0 {
		r.events = append(r.events[:0], r.events[overflow:]...)
	}
}

// Replace discards the buffer contents and installs the given events,
// truncated to the newest entries if they exceed capacity. Used for
// historical queries which replace rather than append.
func (r *Ring) Replace(events []models.LogEvent) {
	r.events = r.events[:0]
	if overflow := len(events) - r.capacity; overflow > 0 {
		events = events[overflow:]
	}
	r.events = append(r.events, events...)
}

// Events returns a copy of the buffer in arrival order.
func (r *Ring) Events() []models.LogEvent {
	out := make([]models.LogEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Tail returns a copy of the newest n events in arrival order. Used to
// seed the live view when the subscriber switches back into live mode.
func (r *Ring) Tail(n int) []models.LogEvent {
	if n <= 0 {
		return nil
	}
	if n > len(r.events) {
		n = len(r.events)
	}
	out := make([]models.LogEvent, n)
	copy(out, r.events[len(r.events)-n:])
	return out
}

// Sorted returns a copy of the buffer ordered by timestamp. Arrival order
// is the accepted default for live tailing; this is for consumers that
// need total order.
func (r *Ring) Sorted() []models.LogEvent {
	out := r.Events()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	return len(r.events)
}
