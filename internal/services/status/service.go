package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
)

// AppState represents the application state
type AppState string

const (
	StateIdle    AppState = "idle"
	StateRunning AppState = "running"
	StateOffline AppState = "offline"
)

// Service tracks aggregate application state derived from job events.
type Service struct {
	state        AppState
	mu           sync.RWMutex
	eventService interfaces.EventService
	logger       arbor.ILogger
	activeJobs   map[string]string // job id -> slot key
}

// NewService creates a new status service.
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		eventService: eventService,
		logger:       logger,
		activeJobs:   make(map[string]string),
	}
}

// GetState returns the current application state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// GetStatus returns the full status including state and active jobs.
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make(map[string]string, len(s.activeJobs))
	for id, slot := range s.activeJobs {
		jobs[id] = slot
	}

	return map[string]interface{}{
		"state":       string(s.state),
		"active_jobs": jobs,
		"timestamp":   time.Now(),
	}
}

// SubscribeToJobEvents derives running/idle state from job lifecycle
// events so the dashboard header can show a single aggregate indicator.
func (s *Service) SubscribeToJobEvents() {
	s.eventService.Subscribe(interfaces.EventJobStateChanged, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}

		jobID, _ := payload["job_id"].(string)
		slotKey, _ := payload["slot_key"].(string)
		state, _ := payload["state"].(string)
		if jobID == "" {
			return nil
		}

		s.mu.Lock()
		switch state {
		case "queued", "running":
			s.activeJobs[jobID] = slotKey
		case "finished", "failed", "cancelled":
			delete(s.activeJobs, jobID)
		}

		old := s.state
		if len(s.activeJobs) > 0 {
			s.state = StateRunning
		} else {
			s.state = StateIdle
		}
		changed := old != s.state
		newState := s.state
		s.mu.Unlock()

		if changed {
			s.logger.Info().
				Str("old_state", string(old)).
				Str("new_state", string(newState)).
				Msg("Application state changed")
		}
		return nil
	})

	s.logger.Info().Msg("StatusService subscribed to job events")
}
