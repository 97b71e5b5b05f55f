package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle stage of one submission attempt.
// Transitions are monotonic: pending -> submitted -> (completed | failed).
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ProcessingJob tracks one dataset submission to the analysis service.
type ProcessingJob struct {
	ID          string          `json:"id"`
	DatasetID   string          `json:"dataset_id"`
	ModelType   string          `json:"model_type"`
	Status      JobStatus       `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	RawResponse json.RawMessage `json:"-"`
}

// IsDone reports whether the job reached a terminal state.
func (j *ProcessingJob) IsDone() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
