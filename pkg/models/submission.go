package models

import "time"

// JobState represents the lifecycle state of a remote batch job
type JobState string

const (
	JobQueued     JobState = "queued"
	JobRunning    JobState = "running"
	JobFinalizing JobState = "finalizing"
	JobCancelling JobState = "cancelling"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobExpired    JobState = "expired"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether no further transition can happen from this state
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobExpired, JobCancelled:
		return true
	}
	return false
}

// RequestCounts tallies the requests of a remote job by outcome
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobStatus is a snapshot of a remote job
type JobStatus struct {
	JobID  string        `json:"job_id"`
	State  JobState      `json:"state"`
	Counts RequestCounts `json:"counts"`
}

// SubmissionRecord is the persisted proof that a batch was submitted
type SubmissionRecord struct {
	RunID        string    `json:"run_id"`
	BatchIndex   int       `json:"batch_index"`
	Fingerprint  string    `json:"fingerprint"` // SHA-256 of the upload payload
	JobID        string    `json:"job_id"`
	FileID       string    `json:"file_id,omitempty"`
	RequestCount int       `json:"request_count"`
	CostSum      int       `json:"cost_sum"`
	CreatedAt    time.Time `json:"created_at"`
}
