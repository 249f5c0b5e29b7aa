// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 4:47:30 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/logapi"
	"github.com/ternarybob/specto/internal/models"
)

// Scope selects between a continuously polling feed and a single-shot
// historical query.
type Scope string

const (
	ScopeLive       Scope = "live"
	ScopeHistorical Scope = "historical"
)

const (
	// DefaultPollInterval is the live poll cadence. Chosen to stay under
	// the log source's documented request budget.
	DefaultPollInterval = 3 * time.Second

	// DefaultLiveWindow is the recent window each live poll covers.
	DefaultLiveWindow = 3 * time.Minute

	// DefaultBatchLimit bounds entries requested per poll.
	DefaultBatchLimit = 200

	// cursorOverlap is re-polled behind the delivered boundary so events
	// landing near the poll edge are not missed. Dedup suppresses the
	// resulting repeats.
	cursorOverlap = 15 * time.Second

	// subscriptionBuffer is the per-subscription channel depth.
	subscriptionBuffer = 16
)

// Filter selects which log sources and time range a subscription covers.
type Filter struct {
	Scope     Scope
	SourceIDs []string
	Start     time.Time // historical window start; ignored for live
	End       time.Time // historical window end; ignored for live
}

// Key returns a stable identity for the filter. Subscriptions with
// different keys never share dedup state or cursors.
func (f Filter) Key() string {
	return fmt.Sprintf("%s|%v|%d|%d", f.Scope, f.SourceIDs, f.Start.UnixNano(), f.End.UnixNano())
}

// Message is one delivery on a subscription: a batch of fresh events, or
// a terminal error after which no further messages arrive.
type Message struct {
	Events []models.LogEvent
	Err    error
}

// Subscription is one open feed. Live subscriptions stay open until
// Close; historical subscriptions deliver exactly one batch and close
// themselves.
type Subscription struct {
	ID     string
	Filter Filter

	messages chan Message
	ctx      context.Context
	cancel   context.CancelFunc
	closed   sync.Once

	// dedup, cursor and failErr are owned exclusively by this
	// subscription's poll loop; never shared, never accessed concurrently.
	dedup   *Deduplicator
	cursor  time.Time
	failErr error
}

// Messages returns the delivery channel. It is closed when the
// subscription ends, after any terminal error message.
func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

// Close tears down the subscription and its outstanding poll.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.cancel()
	})
}

// StreamStatus is a subscription lifecycle notice: opened, closed, or
// failed terminally (auth rejection).
type StreamStatus struct {
	SubscriptionID string `json:"subscription_id"`
	Scope          string `json:"scope"`
	State          string `json:"state"` // "open" | "closed" | "failed"
	Error          string `json:"error,omitempty"`
}

const (
	StreamOpen   = "open"
	StreamClosed = "closed"
	StreamFailed = "failed"
)

// RelayOptions configure a Relay.
type RelayOptions struct {
	PollInterval time.Duration
	LiveWindow   time.Duration
	BatchLimit   int
	DedupMax     int
	DedupTrim    int

	// OnStatus, when set, receives subscription lifecycle notices. Called
	// from relay goroutines; must not block.
	OnStatus func(StreamStatus)
}

// Relay bridges the rate-limited external log source to any number of
// subscribers. Each subscription runs an independent poll loop; polls for
// one subscription are strictly serialized (the next poll is scheduled
// only after the previous response).
type Relay struct {
	source interfaces.LogSource
	logger arbor.ILogger
	opts   RelayOptions

	mu   sync.Mutex
	subs map[string]*Subscription
	wg   sync.WaitGroup
}

// NewRelay creates a relay over the given log source.
func NewRelay(source interfaces.LogSource, logger arbor.ILogger, opts RelayOptions) *Relay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LiveWindow <= 0 {
		opts.LiveWindow = DefaultLiveWindow
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	return &Relay{
		source: source,
		logger: logger,
		opts:   opts,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe opens a feed for the filter. The initial batch is fetched and
// delivered asynchronously; historical subscriptions then close, live
// subscriptions keep polling until closed.
func (r *Relay) Subscribe(ctx context.Context, filter Filter) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ID:       common.NewSubscriptionID(),
		Filter:   filter,
		messages: make(chan Message, subscriptionBuffer),
		ctx:      subCtx,
		cancel:   cancel,
		dedup:    NewDeduplicator(r.opts.DedupMax, r.opts.DedupTrim),
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.logger.Debug().
		Str("subscription_id", sub.ID).
		Str("scope", string(filter.Scope)).
		Msg("Log subscription opened")
	r.notifyStatus(sub, StreamOpen, nil)

	r.wg.Add(1)
	go r.run(sub)

	return sub
}

// ActiveSubscriptions returns the number of open subscriptions.
func (r *Relay) ActiveSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Shutdown closes every open subscription and waits for their poll loops
// to exit.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	r.wg.Wait()
}

// run drives one subscription: Initializing -> Live-polling -> Closed for
// live filters, Initializing -> Closed for historical ones.
func (r *Relay) run(sub *Subscription) {
	defer r.wg.Done()
	defer r.remove(sub)
	defer close(sub.messages)

	// Initializing: one poll covering the full window, delivered whole.
	if terminal := r.poll(sub, true); terminal {
		return
	}

	if sub.Filter.Scope != ScopeLive {
		// Historical subscriptions are single-shot.
		return
	}

	// Live-polling: fixed cadence, one poll in flight at a time. The next
	// poll is scheduled only after the previous response, so a slow source
	// can never cause overlapping requests for this subscription.
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(r.opts.PollInterval):
		}

		if terminal := r.poll(sub, false); terminal {
			return
		}
	}
}

// poll issues one query and delivers fresh events. Returns true when the
// subscription must terminate (auth rejection or cancelled context).
func (r *Relay) poll(sub *Subscription, initial bool) bool {
	query := r.buildQuery(sub, initial)

	batch, err := r.source.Query(sub.ctx, query)
	if err != nil {
		if sub.ctx.Err() != nil {
			return true
		}
		switch logapi.Classify(err) {
		case logapi.ClassTerminalAuth:
			// Retrying cannot succeed; surface an explicit error event.
			r.logger.Warn().
				Str("subscription_id", sub.ID).
				Err(err).
				Msg("Log subscription terminated: source rejected credentials")
			sub.failErr = err
			r.deliver(sub, Message{Err: err})
			return true
		default:
			// Transient (network, 5xx, malformed payload) and rate-limit
			// failures are absorbed: the fixed cadence already respects
			// the request budget, so the next scheduled poll just runs.
			r.logger.Warn().
				Str("subscription_id", sub.ID).
				Err(err).
				Msg("Log poll failed, retrying on next interval")
			return false
		}
	}

	fresh := r.filterFresh(sub, batch.Events, initial)
	if len(fresh) == 0 && !initial {
		return false
	}

	return !r.deliver(sub, Message{Events: fresh})
}

// buildQuery resolves the subscription filter into a concrete query.
func (r *Relay) buildQuery(sub *Subscription, initial bool) interfaces.LogQuery {
	query := interfaces.LogQuery{
		SourceIDs: sub.Filter.SourceIDs,
		Limit:     r.opts.BatchLimit,
		Direction: interfaces.DirectionForward,
	}

	if sub.Filter.Scope != ScopeLive {
		query.Start = sub.Filter.Start
		query.End = sub.Filter.End
		return query
	}

	now := time.Now()
	start := now.Add(-r.opts.LiveWindow)
	if !initial && sub.cursor.After(start) {
		// Narrow the window to just behind the delivered boundary; the
		// overlap catches events that landed out of order near the edge.
		start = sub.cursor.Add(-cursorOverlap)
	}
	query.Start = start
	query.End = now
	return query
}

// filterFresh drops already-seen events and advances dedup state and the
// cursor. Historical queries replace wholesale and bypass dedup entirely.
func (r *Relay) filterFresh(sub *Subscription, events []models.LogEvent, initial bool) []models.LogEvent {
	if sub.Filter.Scope != ScopeLive {
		return events
	}

	fresh := make([]models.LogEvent, 0, len(events))
	for _, event := range events {
		if !sub.dedup.Add(event.ID) {
			continue
		}
		fresh = append(fresh, event)
		if event.Timestamp.After(sub.cursor) {
			sub.cursor = event.Timestamp
		}
	}

	if !initial && len(fresh) > 0 {
		r.logger.Debug().
			Str("subscription_id", sub.ID).
			Int("received", len(events)).
			Int("delivered", len(fresh)).
			Msg("Live poll delivered")
	}
	return fresh
}

// deliver sends a message, giving up only when the subscription closes.
// Returns false if the subscription ended before the send completed.
func (r *Relay) deliver(sub *Subscription, msg Message) bool {
	select {
	case sub.messages <- msg:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

func (r *Relay) remove(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub.ID)
	r.mu.Unlock()

	r.logger.Debug().
		Str("subscription_id", sub.ID).
		Msg("Log subscription closed")

	if sub.failErr != nil {
		r.notifyStatus(sub, StreamFailed, sub.failErr)
	} else {
		r.notifyStatus(sub, StreamClosed, nil)
	}
}

func (r *Relay) notifyStatus(sub *Subscription, state string, err error) {
	if r.opts.OnStatus == nil {
		return
	}
	status := StreamStatus{
		SubscriptionID: sub.ID,
		Scope:          string(sub.Filter.Scope),
		State:          state,
	}
	if err != nil {
		status.Error = err.Error()
	}
	r.opts.OnStatus(status)
}
