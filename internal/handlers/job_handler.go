// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 6:52:30 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/jobs"
	"github.com/ternarybob/specto/internal/queueapi"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// startRequest is the body for POST /api/jobs/start
type startRequest struct {
	JobName string                 `json:"job_name"`
	SlotKey string                 `json:"slot_key"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// StartJobHandler submits a job to the remote queue and begins tracking it
// POST /api/jobs/start
func (h *JobHandler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.JobName == "" {
		http.Error(w, "job_name is required", http.StatusBadRequest)
		return
	}
	if req.SlotKey == "" {
		req.SlotKey = req.JobName
	}

	job, err := h.jobService.Start(ctx, req.SlotKey, req.JobName, req.Params)
	if err != nil {
		var busy *jobs.SlotBusyError
		if errors.As(err, &busy) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":           "Slot busy",
				"slot_key":        busy.SlotKey,
				"occupied_job_id": busy.JobID,
			})
			return
		}

		var submission *queueapi.SubmissionError
		if errors.As(err, &submission) {
			http.Error(w, "Submission rejected: "+submission.Reason, http.StatusBadGateway)
			return
		}

		h.logger.Warn().Err(err).Str("job_name", req.JobName).Msg("Job start failed")
		http.Error(w, "Failed to start job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"job_id":   job.ID,
		"job_name": job.Name,
		"slot_key": job.SlotKey,
		"state":    string(job.State),
	})
}

// cancelRequest is the body for POST /api/jobs/cancel
type cancelRequest struct {
	JobID string `json:"job_id,omitempty"` // empty = cancel all
}

// CancelJobHandler cancels one job, or every tracked job when no job_id is
// given
// POST /api/jobs/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req cancelRequest
	if r.Body != nil {
		// Empty body is a valid cancel-all request.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.jobService.Cancel(ctx, req.JobID); err != nil {
		h.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("Cancel failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":  err.Error(),
			"job_id": req.JobID,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cancelled": true,
		"job_id":    req.JobID,
	})
}

// ListActiveJobsHandler returns snapshots of every tracked job
// GET /api/jobs/active
func (h *JobHandler) ListActiveJobsHandler(w http.ResponseWriter, r *http.Request) {
	active := h.jobService.Active()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  active,
		"count": len(active),
	})
}

// GetJobHandler returns the snapshot of a single tracked job
// GET /api/jobs/get?job_id=...
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}

	job, ok := h.jobService.Job(jobID)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// QueueDepthHandler returns per-state queue counts from the remote queue
// GET /api/queues/depth
func (h *JobHandler) QueueDepthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	depth, err := h.jobService.QueueDepth(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Queue depth fetch failed")
		http.Error(w, "Queue unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"counts":           depth.Counts,
		"total":            depth.Total(),
		"has_running_jobs": depth.HasRunningJobs(),
	})
}
