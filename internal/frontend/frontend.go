// Package frontend implements the "Exposed interface to the web front-end"
// of spec.md §6: submit, cancel, progress, list_queue and get_current,
// wiring together the Queue Service and Progress Tracker behind the single
// surface a front-end (itself out of scope per §1) calls into.
package frontend

import (
	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
)

// ErrActiveJob is returned by Submit when username already has a
// non-terminal job, per §6 "rejected_if_user_has_active_job" and §8 P7/S4.
var ErrActiveJob = errors.New("user already has an active job")

// Service is the exposed front-end facade.
type Service struct {
	queue    *queue.Service
	progress *progress.Tracker
}

// New constructs a Service over the given Queue Service and Progress
// Tracker.
func New(q *queue.Service, prog *progress.Tracker) *Service {
	return &Service{queue: q, progress: prog}
}

// Submit enqueues a new job for username. runID is caller-supplied (§3 data
// model: "run_id (caller-supplied unique job id)") rather than generated
// here, despite §6's shorthand signature `submit(username, params) ->
// (run_id, position)` -- see DESIGN.md for this Open-Question resolution.
// Returns the 1-based FIFO position, or ErrActiveJob if username already
// has a non-terminal job.
func (s *Service) Submit(runID, username string, jobType coremodel.JobType, params map[string]interface{}) (int, error) {
	has, err := s.queue.HasUserJob(username)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if has {
		return 0, ErrActiveJob
	}
	position, err := s.queue.Enqueue(runID, username, jobType, params)
	if err != nil {
		return 0, errors.Trace(err)
	}
	s.progress.SetActiveRunForUser(username, runID)
	return position, nil
}

// Cancel requests cancellation of runID, queued or running, on by's behalf.
func (s *Service) Cancel(runID, by string) (bool, error) {
	return s.queue.Cancel(runID, by)
}

// Progress returns a snapshot of runID's progress record.
func (s *Service) Progress(runID string) (*coremodel.ProgressRecord, error) {
	return s.progress.GetProgress(runID)
}

// ListQueue returns every currently-queued job with its position.
func (s *Service) ListQueue() ([]coremodel.Job, error) {
	return s.queue.ListJobs()
}

// GetCurrent returns the job presently dispatched to the worker pool, if
// any. Intended for admin tooling per §6.
func (s *Service) GetCurrent() (coremodel.CurrentJob, bool, error) {
	return s.queue.GetCurrent()
}
