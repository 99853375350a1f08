package queue

import (
	"os"

	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
)

// SetCurrent records job in the current-job marker, which holds a single
// job. The scheduler loop does not wait for the marker to be cleared before
// dispatching the next job, so concurrently running quick jobs each
// overwrite it, and the first of them to finish removes it via ClearCurrent.
func (s *Service) SetCurrent(job coremodel.CurrentJob) error {
	return s.withLock(func() error {
		if err := atomicfile.WriteJSON(s.currentPath(), job, 0o664); err != nil {
			return newError(KindCorruption, err, "writing current job marker")
		}
		return nil
	})
}

// GetCurrent returns the current job marker, or ok=false if none is set.
func (s *Service) GetCurrent() (coremodel.CurrentJob, bool, error) {
	var job coremodel.CurrentJob
	var ok bool
	err := s.withLock(func() error {
		if err := atomicfile.ReadJSON(s.currentPath(), &job); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				return nil
			}
			return newError(KindCorruption, err, "reading current job marker")
		}
		ok = true
		return nil
	})
	return job, ok, err
}

// ClearCurrent removes the current job marker. A no-op if none is set.
func (s *Service) ClearCurrent() error {
	return s.withLock(func() error {
		if err := os.Remove(s.currentPath()); err != nil && !os.IsNotExist(err) {
			return newError(KindCorruption, err, "removing current job marker")
		}
		return nil
	})
}

// requestCancelCurrent sets the current job's cancel_requested flag if
// runID is the job in the current-job marker; returns ok=false otherwise.
// Service.Cancel calls it only after failing to remove runID from the
// queue, covering both steps of §4.C request_cancel.
func (s *Service) requestCancelCurrent(runID, cancelledBy string) (bool, error) {
	var ok bool
	err := s.withLock(func() error {
		var cur coremodel.CurrentJob
		if err := atomicfile.ReadJSON(s.currentPath(), &cur); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				return nil
			}
			return newError(KindCorruption, err, "reading current job marker")
		}
		if cur.RunID != runID {
			return nil
		}
		cur.CancelRequested = true
		cur.CancelRequestedBy = cancelledBy
		cur.CancelRequestedAt = s.clock.Now()
		if err := atomicfile.WriteJSON(s.currentPath(), cur, 0o664); err != nil {
			return newError(KindCorruption, err, "writing current job marker")
		}
		ok = true
		return nil
	})
	return ok, err
}
