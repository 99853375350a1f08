package queue

import (
	"path/filepath"
	"time"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
)

// cancelMarker is written to <run_dir>/<run_id>/cancel.json so any process
// watching the run directory (not just the one handling the cancel request)
// can observe that cancellation was requested.
type cancelMarker struct {
	RunID       string    `json:"run_id"`
	CancelledBy string    `json:"cancelled_by"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// runSnapshot is the run.json history record carried over from the Python
// original (SUPPLEMENTED FEATURES: tsim_queue_service.py writes this
// alongside cancel.json so a cancelled run still has a complete metadata
// record in its run directory, matching what a completed run would have).
type runSnapshot struct {
	RunID     string                 `json:"run_id"`
	Username  string                 `json:"username"`
	CreatedAt time.Time              `json:"created_at"`
	Params    map[string]interface{} `json:"params"`
	Status    coremodel.Status       `json:"status"`
}

// Cancel implements §4.C request_cancel: if runID is still queued, it is
// removed outright and a cancel marker + run snapshot are written for
// history. Otherwise, if runID is the current running job, its
// cancel_requested flag is set for the executor to observe cooperatively
// (§8 P9). Returns false if runID is neither queued nor current.
func (s *Service) Cancel(runID, cancelledBy string) (bool, error) {
	if cancelledBy == "" {
		cancelledBy = "admin"
	}

	var removedJob coremodel.Job
	var removed bool
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		kept := st.Jobs[:0]
		for _, j := range st.Jobs {
			if j.RunID == runID && !removed {
				removedJob = j
				removed = true
				continue
			}
			kept = append(kept, j)
		}
		if !removed {
			return nil
		}
		st.Jobs = kept
		return s.saveState(st)
	})
	if err != nil {
		return false, err
	}

	if removed {
		now := s.clock.Now()
		if werr := s.writeCancelMarker(runID, cancelledBy, now); werr != nil {
			return true, werr
		}
		if werr := s.writeRunSnapshot(removedJob, coremodel.StatusCancelled); werr != nil {
			return true, werr
		}
		logf.Infof("cancelled queued run %s (by %s)", runID, cancelledBy)
		return true, nil
	}

	ok, err := s.requestCancelCurrent(runID, cancelledBy)
	if err != nil {
		return false, err
	}
	if ok {
		now := s.clock.Now()
		if werr := s.writeCancelMarker(runID, cancelledBy, now); werr != nil {
			return true, werr
		}
		logf.Infof("requested cancellation of running run %s (by %s)", runID, cancelledBy)
	}
	return ok, nil
}

func (s *Service) writeCancelMarker(runID, cancelledBy string, at time.Time) error {
	dir := filepath.Join(s.runDir, runID)
	marker := cancelMarker{RunID: runID, CancelledBy: cancelledBy, CancelledAt: at}
	if err := atomicfile.WriteJSON(filepath.Join(dir, "cancel.json"), marker, 0o664); err != nil {
		return newError(KindCorruption, err, "writing cancel marker for %s", runID)
	}
	return nil
}

func (s *Service) writeRunSnapshot(job coremodel.Job, status coremodel.Status) error {
	dir := filepath.Join(s.runDir, job.RunID)
	snap := runSnapshot{
		RunID:     job.RunID,
		Username:  job.Username,
		CreatedAt: job.CreatedAt,
		Params:    job.Params,
		Status:    status,
	}
	if err := atomicfile.WriteJSON(filepath.Join(dir, "run.json"), snap, 0o664); err != nil {
		return newError(KindCorruption, err, "writing run snapshot for %s", job.RunID)
	}
	return nil
}
