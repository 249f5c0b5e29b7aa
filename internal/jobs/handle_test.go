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

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
	"github.com/ternarybob/specto/internal/queueapi"
)

// MockJobQueue is a mock implementation of JobQueue
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Submit(ctx context.Context, jobName string, params map[string]interface{}) (string, error) {
	args := m.Called(ctx, jobName, params)
	return args.String(0), args.Error(1)
}

func (m *MockJobQueue) Status(ctx context.Context, jobID string) (*interfaces.JobStatus, error) {
	args := m.Called(ctx, jobID)
	if status, ok := args.Get(0).(*interfaces.JobStatus); ok {
		return status, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobQueue) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockJobQueue) CancelAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockJobQueue) QueueDepth(ctx context.Context) (*models.QueueDepth, error) {
	args := m.Called(ctx)
	if depth, ok := args.Get(0).(*models.QueueDepth); ok {
		return depth, args.Error(1)
	}
	return nil, args.Error(1)
}

// transitionRecorder collects OnTransition snapshots.
type transitionRecorder struct {
	mu    sync.Mutex
	seen  []models.Job
	tick  int
	ticks []int64
}

func (r *transitionRecorder) onTransition(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job)
}

func (r *transitionRecorder) onElapsed(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick++
	r.ticks = append(r.ticks, job.ElapsedSecs)
}

func (r *transitionRecorder) states() []models.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]models.JobState, len(r.seen))
	for i, job := range r.seen {
		states[i] = job.State
	}
	return states
}

func fastOptions(rec *transitionRecorder) HandleOptions {
	opts := HandleOptions{
		PollInterval: 10 * time.Millisecond,
		ElapsedTick:  10 * time.Millisecond,
	}
	if rec != nil {
		opts.OnTransition = rec.onTransition
		opts.OnElapsed = rec.onElapsed
	}
	return opts
}

func TestSubmit_RejectionReturnsNoHandle(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("", errors.New("queue full"))

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))

	assert.Error(t, err)
	assert.Nil(t, handle)
}

func TestHandle_QueuedToRunningToFinished(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-1", nil)
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "queued"}, nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{JobID: "job-1", Status: "started"}, nil).Once()
	queue.On("Status", mock.Anything, "job-1").Return(&interfaces.JobStatus{
		JobID:  "job-1",
		Status: "completed",
		Result: map[string]interface{}{"frames": 42},
	}, nil)

	rec := &transitionRecorder{}
	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(rec))
	require.NoError(t, err)

	assert.Equal(t, models.JobStateQueued, handle.Snapshot().State)

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateFinished
	}, 2*time.Second, 5*time.Millisecond)
	handle.Done()

	snapshot := handle.Snapshot()
	assert.NotNil(t, snapshot.StartedAt)
	assert.NotNil(t, snapshot.EndedAt)
	assert.Equal(t, map[string]interface{}{"frames": 42}, snapshot.Result)

	// Observed transitions are strictly forward.
	assert.Equal(t, []models.JobState{models.JobStateRunning, models.JobStateFinished}, rec.states())
}

func TestHandle_FailureCarriesErrorMessage(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "encode", mock.Anything).Return("job-2", nil)
	queue.On("Status", mock.Anything, "job-2").Return(&interfaces.JobStatus{
		JobID:  "job-2",
		Status: "failed",
		Error:  "renderer crashed",
	}, nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "encode", "encode", nil, fastOptions(nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "renderer crashed", handle.Snapshot().ErrorMessage)
}

func TestHandle_PollErrorsAreRecoverable(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-3", nil)
	queue.On("Status", mock.Anything, "job-3").Return(nil, errors.New("timeout")).Times(3)
	queue.On("Status", mock.Anything, "job-3").Return(&interfaces.JobStatus{JobID: "job-3", Status: "completed"}, nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateFinished
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandle_NonTransientPollErrorsStillRetry(t *testing.T) {
	rejection := &queueapi.APIError{StatusCode: 400, Message: "bad request"}
	require.False(t, queueapi.IsTransient(rejection))

	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-9", nil)
	queue.On("Status", mock.Anything, "job-9").Return(nil, rejection).Times(2)
	queue.On("Status", mock.Anything, "job-9").Return(&interfaces.JobStatus{JobID: "job-9", Status: "completed"}, nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))
	require.NoError(t, err)

	// Classification only changes how loudly the failure is logged; the
	// poll loop absorbs it and retries either way.
	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateFinished
	}, 2*time.Second, 5*time.Millisecond)
}

// slowOptions keeps the background loops quiet so a test can drive
// applyStatus directly.
func slowOptions() HandleOptions {
	return HandleOptions{PollInterval: time.Hour, ElapsedTick: time.Hour}
}

func TestHandle_StaleResponseDiscarded(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-4", nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, slowOptions())
	require.NoError(t, err)
	defer handle.Abandon()

	// A newer poll resolved as running...
	handle.applyStatus(5, &interfaces.JobStatus{JobID: "job-4", Status: "started"})
	assert.Equal(t, models.JobStateRunning, handle.Snapshot().State)

	// ...so an older in-flight response, even a regressive one, is dropped.
	handle.applyStatus(3, &interfaces.JobStatus{JobID: "job-4", Status: "queued"})
	assert.Equal(t, models.JobStateRunning, handle.Snapshot().State)

	// Same for an older terminal claim.
	handle.applyStatus(4, &interfaces.JobStatus{JobID: "job-4", Status: "failed"})
	assert.Equal(t, models.JobStateRunning, handle.Snapshot().State)

	// A genuinely newer response still applies.
	handle.applyStatus(6, &interfaces.JobStatus{JobID: "job-4", Status: "completed"})
	assert.Equal(t, models.JobStateFinished, handle.Snapshot().State)
}

func TestHandle_UnrecognizedStatusIgnored(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-5", nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, slowOptions())
	require.NoError(t, err)
	defer handle.Abandon()

	handle.applyStatus(10, &interfaces.JobStatus{JobID: "job-5", Status: "warming-up"})
	assert.Equal(t, models.JobStateQueued, handle.Snapshot().State)
}

func TestHandle_CancelTransitionsToCancelled(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-6", nil)
	queue.On("Status", mock.Anything, "job-6").Return(&interfaces.JobStatus{JobID: "job-6", Status: "started"}, nil)
	queue.On("Cancel", mock.Anything, "job-6").Return(nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, handle.Cancel(context.Background()))
	assert.Equal(t, models.JobStateCancelled, handle.Snapshot().State)

	// Cancelling again is an idempotent no-op; no second queue call.
	require.NoError(t, handle.Cancel(context.Background()))
	queue.AssertNumberOfCalls(t, "Cancel", 1)
}

func TestHandle_CancelFailureKeepsState(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-7", nil)
	queue.On("Status", mock.Anything, "job-7").Return(&interfaces.JobStatus{JobID: "job-7", Status: "started"}, nil)
	queue.On("Cancel", mock.Anything, "job-7").Return(errors.New("queue unreachable"))

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))
	require.NoError(t, err)
	defer handle.Abandon()

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateRunning
	}, 2*time.Second, 5*time.Millisecond)

	// Cancellation is never assumed: queue said no, so the job is still
	// running.
	assert.Error(t, handle.Cancel(context.Background()))
	assert.Equal(t, models.JobStateRunning, handle.Snapshot().State)
}

func TestHandle_ElapsedFrozenAtTerminal(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-8", nil)
	queue.On("Status", mock.Anything, "job-8").Return(&interfaces.JobStatus{JobID: "job-8", Status: "completed"}, nil)

	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(nil))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handle.Snapshot().State == models.JobStateFinished
	}, 2*time.Second, 5*time.Millisecond)
	handle.Done()

	frozen := handle.Elapsed()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, handle.Elapsed(), "elapsed must freeze at the terminal timestamp")
}

func TestHandle_ElapsedTicksFireWhileLive(t *testing.T) {
	queue := new(MockJobQueue)
	queue.On("Submit", mock.Anything, "render", mock.Anything).Return("job-9", nil)
	queue.On("Status", mock.Anything, "job-9").Return(&interfaces.JobStatus{JobID: "job-9", Status: "started"}, nil)

	rec := &transitionRecorder{}
	handle, err := Submit(context.Background(), queue, arbor.NewLogger(), "render", "render", nil, fastOptions(rec))
	require.NoError(t, err)
	defer handle.Abandon()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.tick >= 3
	}, 2*time.Second, 5*time.Millisecond)
}
