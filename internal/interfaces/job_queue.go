package interfaces

import (
	"context"

	"github.com/ternarybob/specto/internal/models"
)

// JobStatus is the status report returned by the external queue for a
// single submitted job.
type JobStatus struct {
	JobID  string                 `json:"job_id"`
	Status string                 `json:"status"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// JobQueue is the external queue/worker service that executes pipeline
// steps. specto submits named units of work and observes their progress;
// execution itself is out of scope.
type JobQueue interface {
	// Submit enqueues a named job and returns the queue-assigned job ID.
	Submit(ctx context.Context, jobName string, params map[string]interface{}) (string, error)

	// Status fetches the current status of a submitted job.
	Status(ctx context.Context, jobID string) (*JobStatus, error)

	// Cancel aborts a single job by ID.
	Cancel(ctx context.Context, jobID string) error

	// CancelAll aborts every queued or running job.
	CancelAll(ctx context.Context) error

	// QueueDepth returns per-queue pending/running counts.
	QueueDepth(ctx context.Context) (*models.QueueDepth, error)
}
