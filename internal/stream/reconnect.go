// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 5:21:09 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package stream

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/models"
)

// ConnState is the connection state of a feed consumer.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateDisconnected ConnState = "disconnected"
	StateFailed       ConnState = "failed" // terminal (auth); no automatic retry
	StateClosed       ConnState = "closed" // historical feed completed or controller stopped
)

// Feed is one established subscription delivering messages until it ends.
type Feed interface {
	Messages() <-chan Message
	Close()
}

// Connector establishes a feed for a filter. A returned error counts as a
// transport failure and drives the backoff cycle.
type Connector func(ctx context.Context, filter Filter) (Feed, error)

// Status is a snapshot surfaced to the UI on every state change and on
// each countdown tick while disconnected.
type Status struct {
	State   ConnState     `json:"state"`
	Attempt int           `json:"attempt"`
	RetryIn time.Duration `json:"retry_in,omitempty"`
	Err     string        `json:"error,omitempty"`
}

// ControllerOptions configure a Controller.
type ControllerOptions struct {
	Policy   *BackoffPolicy
	RingSize int
	SeedSize int // events carried into a fresh live ring on filter switch

	// OnStatus, when set, receives every status update. Called from the
	// controller goroutine; must not block.
	OnStatus func(Status)

	// OnBatch, when set, receives each delivered batch after it has been
	// buffered. Called from the controller goroutine; must not block.
	OnBatch func([]models.LogEvent)
}

// DefaultSeedSize is how many already-held events seed the ring when the
// subscriber switches back into live mode.
const DefaultSeedSize = 100

// Controller consumes a live or historical feed and owns the reconnect
// contract: on transport failure it backs off exponentially with jitter,
// counts down visibly, honours manual retry-now, and resets the attempt
// counter on every successful open. Switching filters always tears the
// feed down and rebuilds it from scratch.
type Controller struct {
	connector Connector
	logger    arbor.ILogger
	policy    *BackoffPolicy
	seedSize  int
	onStatus  func(Status)
	onBatch   func([]models.LogEvent)

	mu     sync.RWMutex
	ring   *Ring
	status Status

	filterCh chan Filter
	retryCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewController creates a controller; Run must be called to start it.
func NewController(connector Connector, logger arbor.ILogger, opts ControllerOptions) *Controller {
	if opts.Policy == nil {
		opts.Policy = NewBackoffPolicy()
	}
	if opts.SeedSize <= 0 {
		opts.SeedSize = DefaultSeedSize
	}
	return &Controller{
		connector: connector,
		logger:    logger,
		policy:    opts.Policy,
		seedSize:  opts.SeedSize,
		onStatus:  opts.OnStatus,
		onBatch:   opts.OnBatch,
		ring:      NewRing(opts.RingSize),
		status:    Status{State: StateClosed},
		filterCh:  make(chan Filter, 1),
		retryCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Run starts the controller with an initial filter and blocks until Stop
// or context cancellation. Typically launched via common.SafeGoWithContext.
func (c *Controller) Run(ctx context.Context, filter Filter) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer close(c.done)

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			c.setStatus(Status{State: StateClosed})
			return
		}

		c.setStatus(Status{State: StateConnecting, Attempt: attempt})

		feed, err := c.connector(c.ctx, filter)
		if err != nil {
			next, newFilter, ok := c.awaitRetry(filter, attempt, err)
			if !ok {
				return
			}
			if newFilter != nil {
				filter = c.applyFilterSwitch(filter, *newFilter)
				attempt = 0
			} else {
				attempt = next
			}
			continue
		}

		// A successful open always resets the attempt counter; backoff
		// never continues across a recovered outage.
		attempt = 0
		c.setStatus(Status{State: StateOpen})

		outcome, newFilter := c.consume(feed, filter)
		feed.Close()

		switch outcome {
		case outcomeStopped:
			c.setStatus(Status{State: StateClosed})
			return
		case outcomeFilterSwitch:
			filter = c.applyFilterSwitch(filter, *newFilter)
		case outcomeCompleted:
			// Historical feeds end after one batch; wait for a filter
			// switch or manual retry rather than reconnecting.
			c.setStatus(Status{State: StateClosed})
			newFilter, ok := c.awaitIdle()
			if !ok {
				return
			}
			if newFilter != nil {
				filter = c.applyFilterSwitch(filter, *newFilter)
			}
		case outcomeTerminal:
			// Auth rejection: retrying cannot succeed. Stay failed until
			// the user switches filters or forces a retry.
			newFilter, ok := c.awaitIdle()
			if !ok {
				c.setStatus(Status{State: StateClosed})
				return
			}
			if newFilter != nil {
				filter = c.applyFilterSwitch(filter, *newFilter)
			}
		case outcomeDisconnected:
			next, newFilter, ok := c.awaitRetry(filter, attempt, nil)
			if !ok {
				return
			}
			if newFilter != nil {
				filter = c.applyFilterSwitch(filter, *newFilter)
			} else {
				attempt = next
			}
		}
	}
}

type consumeOutcome int

const (
	outcomeDisconnected consumeOutcome = iota // live feed ended unexpectedly
	outcomeCompleted                          // historical feed delivered its batch
	outcomeTerminal                           // source reported an unrecoverable error
	outcomeFilterSwitch
	outcomeStopped
)

// consume drains feed messages into the ring until the feed ends or a
// control signal arrives.
func (c *Controller) consume(feed Feed, filter Filter) (consumeOutcome, *Filter) {
	for {
		select {
		case <-c.ctx.Done():
			return outcomeStopped, nil

		case newFilter := <-c.filterCh:
			return outcomeFilterSwitch, &newFilter

		case <-c.retryCh:
			// Retry-now while connected is a no-op.
			continue

		case msg, ok := <-feed.Messages():
			if !ok {
				if filter.Scope == ScopeLive {
					return outcomeDisconnected, nil
				}
				return outcomeCompleted, nil
			}
			if msg.Err != nil {
				c.setStatus(Status{State: StateFailed, Err: msg.Err.Error()})
				return outcomeTerminal, nil
			}

			c.mu.Lock()
			if filter.Scope == ScopeLive {
				c.ring.Append(msg.Events...)
			} else {
				// Historical batches replace rather than append.
				c.ring.Replace(msg.Events)
			}
			c.mu.Unlock()

			if c.onBatch != nil && len(msg.Events) > 0 {
				c.onBatch(msg.Events)
			}
		}
	}
}

// awaitRetry runs the disconnected countdown: computes the backoff delay,
// ticks once a second for UI display, and resolves on timer expiry, manual
// retry, filter switch or shutdown. Returns the next attempt counter.
func (c *Controller) awaitRetry(filter Filter, attempt int, cause error) (int, *Filter, bool) {
	delay := c.policy.Delay(attempt)
	deadline := time.Now().Add(delay)

	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	c.setStatus(Status{State: StateDisconnected, Attempt: attempt, RetryIn: delay, Err: errText})

	c.logger.Info().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Stream disconnected, scheduling reconnect")

	timer := time.NewTimer(delay)
	ticker := time.NewTicker(time.Second)
	defer timer.Stop()
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.setStatus(Status{State: StateClosed})
			return 0, nil, false

		case newFilter := <-c.filterCh:
			return 0, &newFilter, true

		case <-c.retryCh:
			// Manual retry cancels the scheduled reconnection and resets
			// the attempt counter.
			return 0, nil, true

		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining < 0 {
				remaining = 0
			}
			c.setStatus(Status{State: StateDisconnected, Attempt: attempt, RetryIn: remaining, Err: errText})

		case <-timer.C:
			return attempt + 1, nil, true
		}
	}
}

// awaitIdle blocks until a filter switch or manual retry while the
// controller is in a resting state (historical complete or auth failure).
// A nil filter with ok=true means "reconnect with the current filter".
func (c *Controller) awaitIdle() (*Filter, bool) {
	select {
	case <-c.ctx.Done():
		return nil, false
	case newFilter := <-c.filterCh:
		return &newFilter, true
	case <-c.retryCh:
		return nil, true
	}
}

// applyFilterSwitch rebuilds client-side buffers for the new filter. No
// dedup or cursor state survives a switch; switching back into live mode
// seeds the fresh ring with the newest already-held events so the view
// does not reset to empty.
func (c *Controller) applyFilterSwitch(old, next Filter) Filter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if next.Scope == ScopeLive {
		seed := c.ring.Tail(c.seedSize)
		c.ring = NewRing(c.ring.capacity)
		c.ring.Append(seed...)
	} else {
		c.ring = NewRing(c.ring.capacity)
	}

	c.logger.Debug().
		Str("from_scope", string(old.Scope)).
		Str("to_scope", string(next.Scope)).
		Msg("Stream filter switched")

	return next
}

// SetFilter requests a teardown-and-rebuild with the new filter.
func (c *Controller) SetFilter(filter Filter) {
	select {
	case c.filterCh <- filter:
	case <-c.done:
	}
}

// RetryNow cancels any scheduled reconnection and reconnects immediately,
// resetting the attempt counter.
func (c *Controller) RetryNow() {
	select {
	case c.retryCh <- struct{}{}:
	default:
		// A pending retry signal is already queued.
	}
}

// Stop shuts the controller down, cancelling the active feed, any retry
// timer and the countdown ticker.
func (c *Controller) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	<-c.done
}

// Status returns the latest status snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Events returns the ring buffer contents in arrival order.
func (c *Controller) Events() []models.LogEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ring.Events()
}

func (c *Controller) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	if c.onStatus != nil {
		c.onStatus(status)
	}
}
