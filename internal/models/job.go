// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 2:14:07 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobState represents the lifecycle state of a tracked pipeline job.
// States are strictly ordered: a job only moves forward through
// Queued -> Running -> {Finished|Failed|Cancelled}. Terminal states
// never revert.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateFinished  JobState = "finished"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// stateRank orders states for monotonicity checks. Terminal states share
// the highest rank so no terminal state can replace another.
var stateRank = map[JobState]int{
	JobStateQueued:    0,
	JobStateRunning:   1,
	JobStateFinished:  2,
	JobStateFailed:    2,
	JobStateCancelled: 2,
}

// IsTerminal reports whether the state is final.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateFinished, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next preserves
// state monotonicity.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	return stateRank[next] > stateRank[s]
}

// ParseJobState maps a queue-reported status string to a JobState.
// Unrecognized statuses map to the zero value with ok=false so a single
// malformed poll response never drives a state transition.
func ParseJobState(status string) (JobState, bool) {
	switch status {
	case "queued", "pending":
		return JobStateQueued, true
	case "started", "running":
		return JobStateRunning, true
	case "finished", "completed":
		return JobStateFinished, true
	case "failed":
		return JobStateFailed, true
	case "cancelled":
		return JobStateCancelled, true
	}
	return "", false
}

// Job is the externally visible snapshot of a tracked job.
type Job struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	SlotKey      string                 `json:"slot_key"`
	State        JobState               `json:"state"`
	SubmittedAt  time.Time              `json:"submitted_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ElapsedSecs  int64                  `json:"elapsed_secs"`
}

// QueueDepth reports per-queue message counts from the external queue.
type QueueDepth struct {
	Counts map[string]int `json:"counts"`
}

// Total returns the sum of all per-queue counts.
func (d QueueDepth) Total() int {
	total := 0
	for _, n := range d.Counts {
		total += n
	}
	return total
}

// HasRunningJobs is true iff any queue reports a nonzero count.
func (d QueueDepth) HasRunningJobs() bool {
	return d.Total() > 0
}
