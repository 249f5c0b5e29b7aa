package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

func newTestSlotManager(queue interfaces.JobQueue, groups []common.SlotGroup) *SlotManager {
	return NewSlotManager(queue, arbor.NewLogger(), groups, HandleOptions{
		PollInterval: 10 * time.Millisecond,
		ElapsedTick:  10 * time.Millisecond,
	})
}

func TestSlotManager_SecondStartRejected(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)

	manager := newTestSlotManager(queue, nil)

	handle, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)
	defer handle.Abandon()

	_, err = manager.Start(context.Background(), "render", "render", nil)

	var busy *SlotBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "render", busy.SlotKey)
	assert.Equal(t, "job-1", busy.JobID)

	// Only one submission ever reached the queue.
	queue.AssertNumberOfCalls(t, "Submit", 1)
}

func TestSlotManager_ConcurrentStartsSingleWinner(t *testing.T) {
	queue := new(MockJobQueue)
	// Submission blocks long enough for every racing Start to observe the
	// slot mid-reservation.
	queue.On("Submit", mock.Anything, "render", mock.Anything).Run(func(mock.Arguments) {
		time.Sleep(50 * time.Millisecond)
	}).Return("job-1", nil)
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)

	manager := newTestSlotManager(queue, nil)

	const racers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []*Handle
		failed  []error
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handle, err := manager.Start(context.Background(), "render", "render", nil)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started = append(started, handle)
			} else {
				failed = append(failed, err)
			}
		}()
	}
	wg.Wait()

	// Exactly one racer wins the reservation; the rest are rejected
	// without ever reaching the queue.
	require.Len(t, started, 1)
	require.Len(t, failed, racers-1)
	for _, err := range failed {
		var busy *SlotBusyError
		assert.ErrorAs(t, err, &busy)
	}
	queue.AssertNumberOfCalls(t, "Submit", 1)

	started[0].Abandon()
}

func TestSlotManager_GroupMembersExcludeEachOther(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "ingest-video", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)
	queue.On("Submit", mock.Anything, "publish", mock.Anything).Return("job-2", nil).Once()
	queue.On("Status", mock.Anything, "job-2").Return(&interfaces.JobStatus{JobID: "job-2", Status: "started"}, nil)

	groups := []common.SlotGroup{
		{Name: "ingest", Members: []string{"ingest-video", "ingest-audio"}},
	}
	manager := newTestSlotManager(queue, groups)

	handle, err := manager.Start(context.Background(), "ingest-video", "ingest-video", nil)
	require.NoError(t, err)
	defer handle.Abandon()

	// A different member of the same group shares the token.
	_, err = manager.Start(context.Background(), "ingest-audio", "ingest-audio", nil)
	var busy *SlotBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "ingest", busy.Token)

	// Ungrouped slots are unaffected.
	other, err := manager.Start(context.Background(), "publish", "publish", nil)
	require.NoError(t, err)
	other.Abandon()
}

func TestSlotManager_SlotFreedOnTerminal(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "completed"}, nil)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-2", nil).Once()
	queue.On("Status", mock.Anything, "job-2").Return(&interfaces.JobStatus{JobID: "job-2", Status: "started"}, nil)

	manager := newTestSlotManager(queue, nil)

	first, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return first.Snapshot().State == models.JobStateFinished
	}, 2*time.Second, 5*time.Millisecond)

	// Terminal occupant no longer blocks the slot.
	require.Eventually(t, func() bool {
		second, err := manager.Start(context.Background(), "render", "render", nil)
		if err != nil {
			return false
		}
		second.Abandon()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSlotManager_SubmitFailureReleasesReservation(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("", errors.New("queue full")).Once()
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)

	manager := newTestSlotManager(queue, nil)

	_, err := manager.Start(context.Background(), "render", "render", nil)
	assert.Error(t, err)
	var busy *SlotBusyError
	assert.False(t, errors.As(err, &busy), "submission failure is not a busy slot")

	// The slot is immediately available again.
	handle, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)
	handle.Abandon()
}

func TestSlotManager_ActiveListsNonTerminalOnly(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)
	queue.On("Cancel", mock.Anything, "job-1").Return(nil)

	manager := newTestSlotManager(queue, nil)

	handle, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)
	assert.Len(t, manager.Active(), 1)

	require.NoError(t, handle.Cancel(context.Background()))
	assert.Empty(t, manager.Active())
}

func TestCoordinator_CancelTrackedJobFreesSlot(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil)
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)
	queue.On("Cancel", mock.Anything, "job-1").Return(nil)

	manager := newTestSlotManager(queue, nil)
	coordinator := NewCoordinator(manager, queue, arbor.NewLogger())

	handle, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)

	require.NoError(t, coordinator.Cancel(context.Background(), "job-1"))
	assert.Equal(t, models.JobStateCancelled, handle.Snapshot().State)
	assert.Nil(t, manager.Get("job-1"), "slot must be released eagerly")

	// Cancelling a terminal job again is a no-op.
	require.NoError(t, coordinator.Cancel(context.Background(), "job-1"))
}

func TestCoordinator_CancelUntrackedGoesToQueue(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Cancel", mock.Anything, "elsewhere-1").Return(nil)

	manager := newTestSlotManager(queue, nil)
	coordinator := NewCoordinator(manager, queue, arbor.NewLogger())

	require.NoError(t, coordinator.Cancel(context.Background(), "elsewhere-1"))
	queue.AssertCalled(t, "Cancel", mock.Anything, "elsewhere-1")
}

func TestCoordinator_CancelAllResolvesEveryHandle(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)
	queue.On("Submit", mock.Anything, "encode", mock.Anything).Return("job-2", nil).Once()
	queue.On("Status", mock.Anything, "job-2").Return(&interfaces.JobStatus{JobID: "job-2", Status: "queued"}, nil)
	queue.On("CancelAll", mock.Anything).Return(nil)

	manager := newTestSlotManager(queue, nil)
	coordinator := NewCoordinator(manager, queue, arbor.NewLogger())

	first, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)
	second, err := manager.Start(context.Background(), "encode", "encode", nil)
	require.NoError(t, err)

	require.NoError(t, coordinator.CancelAll(context.Background()))

	assert.Equal(t, models.JobStateCancelled, first.Snapshot().State)
	assert.Equal(t, models.JobStateCancelled, second.Snapshot().State)
	assert.Empty(t, manager.Active())
}

func TestCoordinator_CancelAllQueueFailureLeavesState(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil)
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil)
	queue.On("CancelAll", mock.Anything).Return(errors.New("queue unreachable"))

	manager := newTestSlotManager(queue, nil)
	coordinator := NewCoordinator(manager, queue, arbor.NewLogger())

	handle, err := manager.Start(context.Background(), "render", "render", nil)
	require.NoError(t, err)
	defer handle.Abandon()

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.Error(t, coordinator.CancelAll(context.Background()))
	assert.Equal(t, models.JobStateRunning, handle.Snapshot().State)
}
