package jobs

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Coordinator routes cancel requests to the owning tracked handle, or
// straight to the external queue when the job is not tracked locally.
type Coordinator struct {
	slots  *SlotManager
	queue  interfaces.JobQueue
	logger arbor.ILogger
}

// NewCoordinator creates a cancellation coordinator.
func NewCoordinator(slots *SlotManager, queue interfaces.JobQueue, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		slots:  slots,
		queue:  queue,
		logger: logger,
	}
}

// Cancel aborts one job. Cancelling an already-terminal job is an
// idempotent no-op, not an error. On success the owning slot is cleared
// eagerly, before the handle's poll loop would observe the terminal
// transition, so the slot is never wrongly reported busy.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) error {
	if handle := c.slots.Get(jobID); handle != nil {
		if err := handle.Cancel(ctx); err != nil {
			return err
		}
		c.slots.Release(jobID)
		c.logger.Info().
			Str("job_id", jobID).
			Msg("Job cancelled")
		return nil
	}

	// Not tracked here (e.g. submitted by another session); cancel on the
	// queue directly, keyed purely by id.
	if err := c.queue.Cancel(ctx, jobID); err != nil {
		return err
	}
	c.logger.Info().
		Str("job_id", jobID).
		Msg("Untracked job cancelled on queue")
	return nil
}

// CancelAll aborts every queued or running job on the external queue and
// resolves all locally tracked handles.
func (c *Coordinator) CancelAll(ctx context.Context) error {
	if err := c.queue.CancelAll(ctx); err != nil {
		return err
	}

	for _, job := range c.slots.Active() {
		if handle := c.slots.Get(job.ID); handle != nil {
			// The queue already accepted the global cancel; resolve each
			// handle locally and free its slot.
			handle.applyTerminal(models.JobStateCancelled, nil, "")
			c.slots.Release(job.ID)
		}
	}

	c.logger.Info().Msg("All jobs cancelled")
	return nil
}
