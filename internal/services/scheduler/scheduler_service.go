// Package scheduler starts configured pipeline jobs on cron schedules.
// A schedule firing against a busy slot skips that run; it never queues.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/jobs"
)

// Service drives cron-scheduled job starts through the job service.
type Service struct {
	jobService *jobs.Service
	cron       *cron.Cron
	logger     arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a scheduler over the job service.
func NewService(jobService *jobs.Service, logger arbor.ILogger) *Service {
	return &Service{
		jobService: jobService,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Register adds schedule entries from config. Must be called before Start.
func (s *Service) Register(entries []common.ScheduleEntry) error {
	for _, entry := range entries {
		entry := entry
		_, err := s.cron.AddFunc(entry.Cron, func() {
			s.run(entry)
		})
		if err != nil {
			return fmt.Errorf("failed to register schedule %q for job %s: %w", entry.Cron, entry.JobName, err)
		}
		s.logger.Info().
			Str("cron", entry.Cron).
			Str("job_name", entry.JobName).
			Str("slot_key", entry.SlotKey).
			Msg("Schedule registered")
	}
	return nil
}

// Start begins firing registered schedules.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and waits for any in-flight trigger.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) run(entry common.ScheduleEntry) {
	job, err := s.jobService.Start(context.Background(), entry.SlotKey, entry.JobName, entry.Params)
	if err != nil {
		var busy *jobs.SlotBusyError
		if errors.As(err, &busy) {
			s.logger.Info().
				Str("job_name", entry.JobName).
				Str("slot_key", entry.SlotKey).
				Msg("Scheduled run skipped, slot busy")
			return
		}
		s.logger.Warn().
			Err(err).
			Str("job_name", entry.JobName).
			Msg("Scheduled run failed to start")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("job_name", entry.JobName).
		Str("slot_key", entry.SlotKey).
		Msg("Scheduled job started")
}
