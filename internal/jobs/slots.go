package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

// SlotBusyError is returned when a start request targets a slot (or slot
// group) already occupied by a non-terminal job. Expected in normal use,
// not an exception path.
type SlotBusyError struct {
	SlotKey string
	Token   string
	JobID   string
}

func (e *SlotBusyError) Error() string {
	if e.Token != e.SlotKey {
		return fmt.Sprintf("slot %s busy: group %s occupied by job %s", e.SlotKey, e.Token, e.JobID)
	}
	return fmt.Sprintf("slot %s busy: occupied by job %s", e.SlotKey, e.JobID)
}

// SlotManager enforces at-most-one active job per concurrency slot. Slots
// listed in a group share one mutual-exclusion token: only one member of
// the group may run at a time. Ungrouped slots are independently
// schedulable but still exclude themselves.
type SlotManager struct {
	queue  interfaces.JobQueue
	logger arbor.ILogger
	opts   HandleOptions

	mu        sync.Mutex
	groupOf   map[string]string  // slot key -> group token
	occupants map[string]*Handle // token -> live handle
	reserved  map[string]bool    // tokens held during submission
}

// NewSlotManager creates a slot manager. Group membership comes from
// config; a slot key may belong to at most one group.
func NewSlotManager(queue interfaces.JobQueue, logger arbor.ILogger, groups []common.SlotGroup, opts HandleOptions) *SlotManager {
	groupOf := make(map[string]string)
	for _, group := range groups {
		for _, member := range group.Members {
			groupOf[member] = group.Name
		}
	}
	return &SlotManager{
		queue:     queue,
		logger:    logger,
		opts:      opts,
		groupOf:   groupOf,
		occupants: make(map[string]*Handle),
		reserved:  make(map[string]bool),
	}
}

// token resolves a slot key to its mutual-exclusion token.
func (m *SlotManager) token(slotKey string) string {
	if group, ok := m.groupOf[slotKey]; ok {
		return group
	}
	return slotKey
}

// Start submits a job into the slot. Occupancy is checked-and-reserved
// atomically, so two concurrent Start calls for the same slot can never
// both observe it empty: at most one submits, the rest get SlotBusy.
func (m *SlotManager) Start(ctx context.Context, slotKey, jobName string, params map[string]interface{}) (*Handle, error) {
	token := m.token(slotKey)

	m.mu.Lock()
	if m.reserved[token] {
		m.mu.Unlock()
		return nil, &SlotBusyError{SlotKey: slotKey, Token: token, JobID: "pending"}
	}
	if occupant, ok := m.occupants[token]; ok {
		snapshot := occupant.Snapshot()
		if !snapshot.State.IsTerminal() {
			m.mu.Unlock()
			return nil, &SlotBusyError{SlotKey: slotKey, Token: token, JobID: snapshot.ID}
		}
		// Terminal occupant not yet released; clear it now.
		delete(m.occupants, token)
	}
	m.reserved[token] = true
	m.mu.Unlock()

	opts := m.opts
	userTransition := opts.OnTransition
	opts.OnTransition = func(job models.Job) {
		if job.State.IsTerminal() {
			m.release(token, job.ID)
		}
		if userTransition != nil {
			userTransition(job)
		}
	}

	handle, err := Submit(ctx, m.queue, m.logger, slotKey, jobName, params, opts)

	m.mu.Lock()
	delete(m.reserved, token)
	if err == nil {
		m.occupants[token] = handle
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Get returns the handle owning the given job ID, if tracked.
func (m *SlotManager) Get(jobID string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, handle := range m.occupants {
		if handle.Snapshot().ID == jobID {
			return handle
		}
	}
	return nil
}

// Active returns snapshots of every tracked non-terminal job.
func (m *SlotManager) Active() []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]models.Job, 0, len(m.occupants))
	for _, handle := range m.occupants {
		snapshot := handle.Snapshot()
		if !snapshot.State.IsTerminal() {
			active = append(active, snapshot)
		}
	}
	return active
}

// Release clears the slot occupied by jobID immediately, without waiting
// for the handle's own poll loop to observe the terminal transition. Used
// by the cancellation path to avoid a window where the slot is wrongly
// considered busy.
func (m *SlotManager) Release(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, handle := range m.occupants {
		if handle.Snapshot().ID == jobID {
			delete(m.occupants, token)
			return
		}
	}
}

// release clears the slot keyed by token if jobID still owns it.
func (m *SlotManager) release(token, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if occupant, ok := m.occupants[token]; ok && occupant.Snapshot().ID == jobID {
		delete(m.occupants, token)
		m.logger.Debug().
			Str("slot_token", token).
			Str("job_id", jobID).
			Msg("Slot released")
	}
}
