// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 3:02:18 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package queueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/models"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second
)

// Client is a job queue API client implementing interfaces.JobQueue.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new queue API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type submitRequest struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit enqueues a named job and returns the queue-assigned job ID.
// A rejection (4xx) is returned as a SubmissionError and must not be retried.
func (c *Client) Submit(ctx context.Context, jobName string, params map[string]interface{}) (string, error) {
	var resp submitResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", submitRequest{Name: jobName, Params: params}, &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return "", &SubmissionError{JobName: jobName, Reason: apiErr.Message}
		}
		return "", fmt.Errorf("failed to submit job %q: %w", jobName, err)
	}
	if resp.JobID == "" {
		return "", &SubmissionError{JobName: jobName, Reason: "queue returned empty job id"}
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("job_name", jobName).
			Str("job_id", resp.JobID).
			Msg("Job submitted to queue")
	}

	return resp.JobID, nil
}

// Status fetches the current status of a submitted job.
func (c *Client) Status(ctx context.Context, jobID string) (*interfaces.JobStatus, error) {
	var status interfaces.JobStatus
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID+"/status", nil, &status); err != nil {
		return nil, err
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	return &status, nil
}

// Cancel aborts a single job by ID.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil, nil); err != nil {
		return &CancelError{JobID: jobID, Reason: err.Error()}
	}
	return nil
}

// CancelAll aborts every queued or running job.
func (c *Client) CancelAll(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/jobs/cancel-all", nil, nil); err != nil {
		return &CancelError{Reason: err.Error()}
	}
	return nil
}

type depthResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueDepth returns per-queue pending/running counts.
func (c *Client) QueueDepth(ctx context.Context) (*models.QueueDepth, error) {
	var resp depthResponse
	if err := c.do(ctx, http.MethodGet, "/api/queues/depth", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Counts == nil {
		resp.Counts = map[string]int{}
	}
	return &models.QueueDepth{Counts: resp.Counts}, nil
}

// do performs a request against the queue API.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(bytes.TrimSpace(data)),
			Endpoint:   path,
		}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
