package task

// Job manager REST client consumed (narrowly) by the CDC runner to poll the
// external engine's job state once the job-id has been scraped from the
// subprocess log. Grounded on spec.md §6's documented external collaborator
// interface ("Job manager: get_job_details(job_id) -> {state, ...}") and
// original_source/api/resinkit_api/clients/job_manager/
// flink_job_manager_client.py.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JobManagerClient queries a Flink job manager's REST API for job state.
type JobManagerClient struct {
	baseURL string
	http    *http.Client
}

func NewJobManagerClient(baseURL string) *JobManagerClient {
	return &JobManagerClient{baseURL: baseURL, http: &http.Client{Timeout: 15 * time.Second}}
}

// JobDetails mirrors the subset of the job manager's job-details response
// the CDC runner needs.
type JobDetails struct {
	State             string `json:"state"`
	FailureStackTrace string `json:"failure-cause.stack-trace,omitempty"`
}

func (c *JobManagerClient) GetJobDetails(ctx context.Context, jobID string) (JobDetails, error) {
	var out JobDetails
	url := fmt.Sprintf("%s/jobs/%s", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("job manager: get job details %s: %w", jobID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("job manager: get job details %s: status %d", jobID, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("job manager: decode job details %s: %w", jobID, err)
	}
	return out, nil
}

// MapJobManagerState maps the job manager's state vocabulary onto the
// task-level Status vocabulary (spec.md §4.7/§6).
func MapJobManagerState(state string) Status {
	switch state {
	case "RUNNING", "CREATED", "RESTARTING":
		return StatusRunning
	case "FINISHED", "COMPLETED":
		return StatusCompleted
	case "FAILED", "FAILING":
		return StatusFailed
	case "CANCELED", "CANCELLING":
		return StatusCancelled
	default:
		return StatusRunning
	}
}
