package jobs

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// Service is the job-tracking facade the handlers and scheduler talk to.
// It owns the slot manager and cancellation coordinator and publishes job
// lifecycle events for the UI.
type Service struct {
	queue       interfaces.JobQueue
	slots       *SlotManager
	coordinator *Coordinator
	events      interfaces.EventService
	logger      arbor.ILogger
}

// NewService wires the slot manager and coordinator over the external
// queue client.
func NewService(queue interfaces.JobQueue, events interfaces.EventService, logger arbor.ILogger, groups []common.SlotGroup, opts HandleOptions) *Service {
	s := &Service{
		queue:  queue,
		events: events,
		logger: logger,
	}

	userTransition := opts.OnTransition
	opts.OnTransition = func(job models.Job) {
		s.publishJobEvent(interfaces.EventJobStateChanged, job)
		if userTransition != nil {
			userTransition(job)
		}
	}
	userElapsed := opts.OnElapsed
	opts.OnElapsed = func(job models.Job) {
		s.publishJobEvent(interfaces.EventJobStateChanged, job)
		if userElapsed != nil {
			userElapsed(job)
		}
	}

	s.slots = NewSlotManager(queue, logger, groups, opts)
	s.coordinator = NewCoordinator(s.slots, queue, logger)
	return s
}

// Start submits a named job into a slot. Returns SlotBusyError when the
// slot (or its group) is occupied by a non-terminal job.
func (s *Service) Start(ctx context.Context, slotKey, jobName string, params map[string]interface{}) (models.Job, error) {
	handle, err := s.slots.Start(ctx, slotKey, jobName, params)
	if err != nil {
		return models.Job{}, err
	}

	job := handle.Snapshot()
	s.publishJobEvent(interfaces.EventJobStateChanged, job)
	return job, nil
}

// Cancel aborts one job, or every job when jobID is empty.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return s.coordinator.CancelAll(ctx)
	}
	return s.coordinator.Cancel(ctx, jobID)
}

// Active returns snapshots of all tracked non-terminal jobs.
func (s *Service) Active() []models.Job {
	return s.slots.Active()
}

// Job returns the snapshot for a tracked job, if any.
func (s *Service) Job(jobID string) (models.Job, bool) {
	if handle := s.slots.Get(jobID); handle != nil {
		return handle.Snapshot(), true
	}
	return models.Job{}, false
}

// QueueDepth reports per-queue counts from the external queue plus the
// derived has-running flag.
func (s *Service) QueueDepth(ctx context.Context) (*models.QueueDepth, error) {
	depth, err := s.queue.QueueDepth(ctx)
	if err != nil {
		return nil, err
	}

	s.publishEvent(interfaces.EventQueueDepth, map[string]interface{}{
		"counts":           depth.Counts,
		"has_running_jobs": depth.HasRunningJobs(),
	})
	return depth, nil
}

func (s *Service) publishJobEvent(eventType interfaces.EventType, job models.Job) {
	s.publishEvent(eventType, map[string]interface{}{
		"job_id":    job.ID,
		"job_name":  job.Name,
		"slot_key":  job.SlotKey,
		"state":     string(job.State),
		"elapsed":   job.ElapsedSecs,
		"error":     job.ErrorMessage,
		"result":    job.Result,
		"submitted": job.SubmittedAt,
	})
}

func (s *Service) publishEvent(eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("Failed to publish event")
	}
}
