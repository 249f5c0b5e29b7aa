// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 5:58:24 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

// Package jobs tracks submitted pipeline jobs: per-job state machines with
// status polling, slot-based concurrency limits and cancellation routing.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/queueapi"
)

const (
	// DefaultPollInterval is the job status poll cadence.
	DefaultPollInterval = 2 * time.Second

	// DefaultElapsedTick drives the display clock, independent of polling.
	DefaultElapsedTick = time.Second
)

// HandleOptions configure a Handle's timers and callbacks.
type HandleOptions struct {
	PollInterval time.Duration
	ElapsedTick  time.Duration

	// OnTransition fires on every observed state change with a snapshot.
	OnTransition func(job models.Job)

	// OnElapsed fires on each elapsed-clock tick while the job is live.
	OnElapsed func(job models.Job)
}

// Handle tracks one submitted job from Queued to a terminal state. The
// poll loop and elapsed ticker are independent goroutines torn down by a
// single context cancellation; out-of-order poll responses are discarded
// by sequence number so an older response can never overwrite a newer
// observed state.
type Handle struct {
	queue  interfaces.JobQueue
	logger arbor.ILogger
	opts   HandleOptions

	mu      sync.RWMutex
	job     models.Job
	pollSeq uint64 // last issued poll sequence
	doneSeq uint64 // newest applied response sequence

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Submit sends a start request to the external queue. On acceptance it
// returns a live Handle in Queued with its poll loop and elapsed ticker
// running. On rejection no handle is created and the caller decides
// whether to retry.
func Submit(ctx context.Context, queue interfaces.JobQueue, logger arbor.ILogger, slotKey, jobName string, params map[string]interface{}, opts HandleOptions) (*Handle, error) {
	jobID, err := queue.Submit(ctx, jobName, params)
	if err != nil {
		return nil, err
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ElapsedTick <= 0 {
		opts.ElapsedTick = DefaultElapsedTick
	}

	// The handle outlives the originating request; its lifetime is bound
	// to its own context, released on terminal state or abandonment.
	handleCtx, cancel := context.WithCancel(context.Background())

	h := &Handle{
		queue:  queue,
		logger: logger,
		opts:   opts,
		job: models.Job{
			ID:          jobID,
			Name:        jobName,
			SlotKey:     slotKey,
			State:       models.JobStateQueued,
			SubmittedAt: time.Now(),
		},
		ctx:    handleCtx,
		cancel: cancel,
	}

	logger.Info().
		Str("job_id", jobID).
		Str("job_name", jobName).
		Str("slot_key", slotKey).
		Msg("Job submitted")

	h.wg.Add(2)
	common.SafeGo(logger, "job-poll-"+jobID, h.pollLoop)
	common.SafeGo(logger, "job-elapsed-"+jobID, h.elapsedLoop)

	return h, nil
}

// Snapshot returns a copy of the current job state.
func (h *Handle) Snapshot() models.Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	job := h.job
	job.ElapsedSecs = int64(h.elapsedLocked().Seconds())
	return job
}

// Elapsed returns wall-clock time since submission, frozen at endedAt
// once the job reaches a terminal state.
func (h *Handle) Elapsed() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.elapsedLocked()
}

func (h *Handle) elapsedLocked() time.Duration {
	if h.job.EndedAt != nil {
		return h.job.EndedAt.Sub(h.job.SubmittedAt)
	}
	return time.Since(h.job.SubmittedAt)
}

// Cancel sends a cancel request to the external queue. Only valid while
// non-terminal; on queue acceptance the handle transitions to Cancelled
// and both loops stop. On failure the handle keeps its prior state -
// cancellation is never assumed to have taken effect.
func (h *Handle) Cancel(ctx context.Context) error {
	h.mu.RLock()
	terminal := h.job.State.IsTerminal()
	jobID := h.job.ID
	h.mu.RUnlock()

	if terminal {
		// Idempotent no-op on already-terminal jobs.
		return nil
	}

	if err := h.queue.Cancel(ctx, jobID); err != nil {
		h.logger.Warn().
			Str("job_id", jobID).
			Err(err).
			Msg("Cancel request failed, job state unchanged")
		return err
	}

	h.applyTerminal(models.JobStateCancelled, nil, "")
	return nil
}

// Abandon stops the poll loop and elapsed ticker without touching job
// state, for callers that stop tracking a job (e.g. page navigation).
func (h *Handle) Abandon() {
	h.cancel()
}

// Done returns after both loops have exited.
func (h *Handle) Done() {
	h.wg.Wait()
}

// pollLoop queries job status on a fixed cadence until a terminal state
// is observed or the handle is torn down. Transport and parse errors are
// recoverable no-ops: the loop simply tries again next interval.
func (h *Handle) pollLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		seq := h.nextSeq()

		// Each poll runs in its own goroutine so a slow response never
		// delays the cadence; the sequence guard in applyStatus discards
		// any response that arrives after a newer one.
		common.SafeGo(h.logger, "job-poll-request", func() {
			pollCtx, cancel := context.WithTimeout(h.ctx, h.opts.PollInterval*2)
			defer cancel()

			status, err := h.queue.Status(pollCtx, h.job.ID)
			if err != nil {
				if h.ctx.Err() == nil {
					if queueapi.IsTransient(err) {
						h.logger.Debug().
							Str("job_id", h.job.ID).
							Err(err).
							Msg("Status poll failed, will retry next interval")
					} else {
						h.logger.Warn().
							Str("job_id", h.job.ID).
							Err(err).
							Msg("Status poll failed, will retry next interval")
					}
				}
				return
			}
			h.applyStatus(seq, status)
		})

		if h.terminal() {
			return
		}
	}
}

func (h *Handle) nextSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollSeq++
	return h.pollSeq
}

func (h *Handle) terminal() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job.State.IsTerminal()
}

// applyStatus folds one poll response into the state machine. Responses
// older than the newest applied one are discarded, transitions that would
// regress the monotonic state order are ignored, and nothing is written
// once the handle is cancelled or terminal.
func (h *Handle) applyStatus(seq uint64, status *interfaces.JobStatus) {
	next, ok := models.ParseJobState(status.Status)
	if !ok {
		h.logger.Debug().
			Str("job_id", h.job.ID).
			Str("status", status.Status).
			Msg("Unrecognized queue status ignored")
		return
	}

	h.mu.Lock()

	if seq <= h.doneSeq {
		// Stale response: a newer poll already resolved.
		h.mu.Unlock()
		return
	}
	h.doneSeq = seq

	if h.ctx.Err() != nil || h.job.State.IsTerminal() {
		h.mu.Unlock()
		return
	}
	if next == h.job.State || !h.job.State.CanTransitionTo(next) {
		h.mu.Unlock()
		return
	}

	now := time.Now()
	h.job.State = next
	if next == models.JobStateRunning && h.job.StartedAt == nil {
		h.job.StartedAt = &now
	}
	if next.IsTerminal() {
		h.job.EndedAt = &now
		h.job.Result = status.Result
		h.job.ErrorMessage = status.Error
	}
	snapshot := h.job
	snapshot.ElapsedSecs = int64(h.elapsedLocked().Seconds())
	h.mu.Unlock()

	h.logger.Info().
		Str("job_id", snapshot.ID).
		Str("state", string(snapshot.State)).
		Msg("Job state changed")

	if h.opts.OnTransition != nil {
		h.opts.OnTransition(snapshot)
	}

	if snapshot.State.IsTerminal() {
		h.cancel()
	}
}

// applyTerminal forces a terminal state locally (cancellation path) and
// tears both loops down. Any in-flight poll response arriving afterwards
// is a no-op: the state is terminal and the context is cancelled.
func (h *Handle) applyTerminal(state models.JobState, result map[string]interface{}, errMsg string) {
	h.mu.Lock()
	if h.job.State.IsTerminal() {
		h.mu.Unlock()
		return
	}
	now := time.Now()
	h.job.State = state
	h.job.EndedAt = &now
	if result != nil {
		h.job.Result = result
	}
	if errMsg != "" {
		h.job.ErrorMessage = errMsg
	}
	snapshot := h.job
	snapshot.ElapsedSecs = int64(h.elapsedLocked().Seconds())
	h.mu.Unlock()

	h.cancel()

	h.logger.Info().
		Str("job_id", snapshot.ID).
		Str("state", string(snapshot.State)).
		Msg("Job state changed")

	if h.opts.OnTransition != nil {
		h.opts.OnTransition(snapshot)
	}
}

// elapsedLoop recomputes the display clock every tick, independent of the
// poll cadence, and stops exactly when the job ends.
func (h *Handle) elapsedLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.ElapsedTick)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		if h.job.State.IsTerminal() {
			h.mu.RUnlock()
			return
		}
		snapshot := h.job
		snapshot.ElapsedSecs = int64(h.elapsedLocked().Seconds())
		h.mu.RUnlock()

		if h.opts.OnElapsed != nil {
			h.opts.OnElapsed(snapshot)
		}
	}
}
