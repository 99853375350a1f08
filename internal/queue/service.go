package queue

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/lockfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("queue")

const queueLockName = "queue"

// Service is the Queue Service: a FIFO job queue plus a single "current job"
// marker, both persisted as JSON under cfg.DataDir/queue and serialized by
// one lock file (§4.C).
type Service struct {
	cfg     config.Config
	locks   *lockfile.Locker
	clock   clock.Clock
	dataDir string
	runDir  string
}

// New constructs a Service rooted at cfg.DataDir/queue, creating the queue
// file with an empty job list if it does not already exist.
func New(cfg config.Config, clk clock.Clock) (*Service, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	dataDir := filepath.Join(cfg.DataDir, "queue")
	locks, err := lockfile.New(dataDir, clk, 25*time.Millisecond)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := &Service{cfg: cfg, locks: locks, clock: clk, dataDir: dataDir, runDir: cfg.RunDir}

	if _, err := os.Stat(s.queuePath()); os.IsNotExist(err) {
		if err := s.saveState(queueState{Version: 1, UpdatedAt: clk.Now(), Jobs: nil}); err != nil {
			return nil, err
		}
	}
	logf.Infof("queue service using %s", s.queuePath())
	return s, nil
}

func (s *Service) queuePath() string   { return filepath.Join(s.dataDir, "queue.json") }
func (s *Service) currentPath() string { return filepath.Join(s.dataDir, "current.json") }

// CleanupStaleLocks reclaims the queue lock file if it is older than maxAge
// and no longer held, satisfying spec.md §4.A's cleanup_stale contract for
// the lock this service owns.
func (s *Service) CleanupStaleLocks(maxAge time.Duration) (int, error) {
	return s.locks.CleanupStale(maxAge)
}

// queueState is the on-disk shape of queue.json.
type queueState struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
	Jobs      []coremodel.Job `json:"jobs"`
}

func (s *Service) loadState() (queueState, error) {
	var st queueState
	if err := atomicfile.ReadJSON(s.queuePath(), &st); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return queueState{Version: 1, UpdatedAt: s.clock.Now()}, nil
		}
		return queueState{}, newError(KindCorruption, err, "reading queue state")
	}
	return st, nil
}

func (s *Service) saveState(st queueState) error {
	st.UpdatedAt = s.clock.Now()
	if err := atomicfile.WriteJSON(s.queuePath(), st, 0o664); err != nil {
		return newError(KindCorruption, err, "writing queue state")
	}
	return nil
}

func (s *Service) withLock(fn func() error) error {
	ok, err := s.locks.Acquire(queueLockName, s.cfg.LockTimeouts.Queue)
	if err != nil {
		return newError(KindLockTimeout, err, "acquiring queue lock")
	}
	if !ok {
		return newError(KindLockTimeout, nil, "acquiring queue lock")
	}
	defer s.locks.Release(queueLockName)
	return fn()
}

// Enqueue appends a new job and returns its 1-based FIFO position. A repeat
// call with an already-queued run_id is idempotent and returns the job's
// existing position rather than duplicating it.
func (s *Service) Enqueue(runID, username string, jobType coremodel.JobType, params map[string]interface{}) (int, error) {
	var position int
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		for idx, j := range st.Jobs {
			if j.RunID == runID {
				position = idx + 1
				return nil
			}
		}
		st.Jobs = append(st.Jobs, coremodel.Job{
			RunID:     runID,
			Username:  username,
			CreatedAt: s.clock.Now(),
			Status:    coremodel.StatusQueued,
			JobType:   jobType,
			Params:    params,
		})
		position = len(st.Jobs)
		return s.saveState(st)
	})
	return position, err
}

// HasUserJob reports whether username has any job in a non-terminal status,
// either still in the queue or recorded in the current-job marker,
// enforcing §8 P7's at-most-one-job-per-user invariant at the submission
// boundary.
func (s *Service) HasUserJob(username string) (bool, error) {
	var has bool
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		for _, j := range st.Jobs {
			if j.Username == username && j.Status.Active() {
				has = true
				return nil
			}
		}
		var cur coremodel.CurrentJob
		if err := atomicfile.ReadJSON(s.currentPath(), &cur); err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				return newError(KindCorruption, err, "reading current job marker")
			}
		} else if cur.Username == username && cur.Status.Active() {
			has = true
		}
		return nil
	})
	return has, err
}

// GetPosition returns runID's 1-based FIFO position, or ok=false if it is not
// currently queued.
func (s *Service) GetPosition(runID string) (int, bool, error) {
	var pos int
	var ok bool
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		for idx, j := range st.Jobs {
			if j.RunID == runID {
				pos = idx + 1
				ok = true
				return nil
			}
		}
		return nil
	})
	return pos, ok, err
}

// PopNext removes and returns the job at the front of the queue, or
// ok=false if the queue is empty (§8 P6 FIFO).
func (s *Service) PopNext() (coremodel.Job, bool, error) {
	var job coremodel.Job
	var ok bool
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		if len(st.Jobs) == 0 {
			return nil
		}
		job = st.Jobs[0]
		st.Jobs = st.Jobs[1:]
		ok = true
		return s.saveState(st)
	})
	return job, ok, err
}

// UpdateStatus sets runID's status in the queue, if it is still present
// there (a job already popped and handed to a worker is tracked via
// SetCurrent instead).
func (s *Service) UpdateStatus(runID string, status coremodel.Status) error {
	return s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		for i := range st.Jobs {
			if st.Jobs[i].RunID == runID {
				st.Jobs[i].Status = status
				return s.saveState(st)
			}
		}
		return nil
	})
}

// Remove deletes runID from the queue outright, returning whether it was
// present.
func (s *Service) Remove(runID string) (bool, error) {
	var removed bool
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		kept := st.Jobs[:0]
		for _, j := range st.Jobs {
			if j.RunID == runID {
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
	return removed, err
}

// Cleanup releases every lock this Service's process holds. Intended for
// test teardown and graceful process shutdown.
func (s *Service) Cleanup() {
	s.locks.ReleaseAll()
}

// ListJobs returns a snapshot of every queued job with its current
// (1-based) position populated.
func (s *Service) ListJobs() ([]coremodel.Job, error) {
	var out []coremodel.Job
	err := s.withLock(func() error {
		st, err := s.loadState()
		if err != nil {
			return err
		}
		out = make([]coremodel.Job, len(st.Jobs))
		for i, j := range st.Jobs {
			j.Position = i + 1
			out[i] = j
		}
		return nil
	})
	return out, err
}
