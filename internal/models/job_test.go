package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobState_IsTerminal(t *testing.T) {
	assert.False(t, JobStateQueued.IsTerminal())
	assert.False(t, JobStateRunning.IsTerminal())
	assert.True(t, JobStateFinished.IsTerminal())
	assert.True(t, JobStateFailed.IsTerminal())
	assert.True(t, JobStateCancelled.IsTerminal())
}

func TestJobState_CanTransitionTo(t *testing.T) {
	assert.True(t, JobStateQueued.CanTransitionTo(JobStateRunning))
	assert.True(t, JobStateQueued.CanTransitionTo(JobStateFailed))
	assert.True(t, JobStateRunning.CanTransitionTo(JobStateFinished))
	assert.True(t, JobStateRunning.CanTransitionTo(JobStateCancelled))

	// No regression.
	assert.False(t, JobStateRunning.CanTransitionTo(JobStateQueued))
	assert.False(t, JobStateRunning.CanTransitionTo(JobStateRunning))

	// Terminal states never move, not even to another terminal state.
	assert.False(t, JobStateFinished.CanTransitionTo(JobStateFailed))
	assert.False(t, JobStateCancelled.CanTransitionTo(JobStateRunning))
	assert.False(t, JobStateFailed.CanTransitionTo(JobStateFinished))
}

func TestParseJobState(t *testing.T) {
	tests := []struct {
		status string
		want   JobState
		ok     bool
	}{
		{"queued", JobStateQueued, true},
		{"pending", JobStateQueued, true},
		{"started", JobStateRunning, true},
		{"running", JobStateRunning, true},
		{"completed", JobStateFinished, true},
		{"finished", JobStateFinished, true},
		{"failed", JobStateFailed, true},
		{"cancelled", JobStateCancelled, true},
		{"warming-up", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseJobState(tt.status)
		assert.Equal(t, tt.ok, ok, "status %q", tt.status)
		assert.Equal(t, tt.want, got, "status %q", tt.status)
	}
}

func TestQueueDepth(t *testing.T) {
	empty := QueueDepth{Counts: map[string]int{}}
	assert.Equal(t, 0, empty.Total())
	assert.False(t, empty.HasRunningJobs())

	depth := QueueDepth{Counts: map[string]int{"render": 2, "encode": 0, "publish": 1}}
	assert.Equal(t, 3, depth.Total())
	assert.True(t, depth.HasRunningJobs())
}
