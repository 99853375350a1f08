// Package coremodel defines the shared data types that flow between the
// queue, registry, progress and scheduler packages. None of these types own
// any mutable shared state themselves -- see the respective package docs for
// ownership (Queue Service owns QueueState, Registry Manager owns the lease
// and lock tables, Progress Tracker owns Progress Records).
package coremodel

import "time"

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether a job in this status counts against the
// at-most-one-job-per-user limit (§4.C has_user_job, P7).
func (s Status) Active() bool {
	switch s {
	case StatusQueued, StatusStarting, StatusRunning:
		return true
	default:
		return false
	}
}

// JobType selects the execution path a job takes through the executor.
type JobType string

const (
	JobQuick    JobType = "quick"
	JobDetailed JobType = "detailed"
)

// Job is the unit of work flowing through Queue -> Scheduler -> Executor.
// RunID is the caller-supplied unique job identifier; it doubles as the
// JobID used for router-lock ownership.
type Job struct {
	RunID     string                 `json:"run_id"`
	Username  string                 `json:"username"`
	CreatedAt time.Time              `json:"created_at"`
	Status    Status                 `json:"status"`
	JobType   JobType                `json:"job_type"`
	Params    map[string]interface{} `json:"params"`

	// Position is only populated on snapshots returned by ListJobs /
	// GetPosition; it is not persisted as part of the job record itself.
	Position int `json:"position,omitempty"`
}

// CurrentJob is the QueueState's single optional "current" marker: the job
// presently handed to the worker pool, plus cooperative-cancellation state.
type CurrentJob struct {
	Job

	CancelRequested   bool      `json:"cancel_requested"`
	CancelRequestedBy string    `json:"cancel_requested_by,omitempty"`
	CancelRequestedAt time.Time `json:"cancel_requested_at,omitempty"`
}
