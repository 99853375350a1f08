// Package lockfile implements the named, cross-process advisory locks
// required by spec.md §4.A. Every lock is backed by an exclusive flock(2) on
// a file under a configured lock directory (github.com/gofrs/flock), so that
// release is guaranteed by the OS when the holding process dies -- the
// load-bearing crash-safety property called out in the Design Notes.
//
// github.com/juju/mutex/v2 -- the teacher's own named-mutex package -- was
// considered first, but its Linux implementation acquires locks through an
// abstract-namespace unix socket rather than a path-visible lock file. That
// makes it a poor fit here: §4.B.5's wait_for_router needs an fsnotify watch
// on the lock file itself, and cleanup_stale needs to glob+stat real files in
// lock_dir. gofrs/flock (already a juju-juju dependency) gives us that file
// directly, so it is used in place of juju/mutex. See DESIGN.md.
package lockfile

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("lockfile")

// Locker owns one lock directory and tracks the locks this process
// currently holds, so that Release can be looked up by name alone the way
// spec.md's release(name) contract requires.
type Locker struct {
	dir   string
	clock clock.Clock
	delay time.Duration

	mu   sync.Mutex
	held map[string]*flock.Flock
}

// New returns a Locker rooted at dir, creating it if necessary. delay is the
// poll interval between acquisition retries while waiting for a contended
// lock (spec.md's "retry interval for polling acquisition").
func New(dir string, clk clock.Clock, delay time.Duration) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, errors.Annotatef(err, "creating lock directory %q", dir)
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Locker{dir: dir, clock: clk, delay: delay, held: make(map[string]*flock.Flock)}, nil
}

// Path returns the lock file path for name, exported so callers that need to
// watch it directly (WaitFree) or report it (get_lock_info equivalents) can
// do so without duplicating the naming scheme.
func (l *Locker) Path(name string) string {
	return filepath.Join(l.dir, name+".lock")
}

// Acquire attempts to take the named exclusive lock, retrying every delay
// interval until it succeeds or timeout elapses. It returns (true, nil) on
// success and (false, nil) on timeout -- never blocking indefinitely, per
// spec.md's acquire(name, timeout) -> bool contract.
func (l *Locker) Acquire(name string, timeout time.Duration) (bool, error) {
	path := l.Path(name)
	fl := flock.New(path)

	deadline := l.clock.Now().Add(timeout)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return false, errors.Annotatef(err, "acquiring lock %q", name)
		}
		if ok {
			if err := writeLockInfo(path); err != nil {
				logf.Warningf("writing lock info for %q: %v", name, err)
			}
			l.mu.Lock()
			l.held[name] = fl
			l.mu.Unlock()
			logf.Debugf("acquired lock %q", name)
			return true, nil
		}

		if !l.clock.Now().Before(deadline) {
			if name == "scheduler_leader" {
				logf.Debugf("timeout acquiring lock %q", name)
			} else {
				logf.Warningf("timeout acquiring lock %q", name)
			}
			return false, nil
		}
		select {
		case <-l.clock.After(l.delay):
		}
	}
}

// Release releases the named lock if this process holds it. Calling it
// without holding the lock is a no-op that returns false, and calling it
// twice in a row is idempotent (second call also returns false).
func (l *Locker) Release(name string) bool {
	l.mu.Lock()
	fl, ok := l.held[name]
	if ok {
		delete(l.held, name)
	}
	l.mu.Unlock()

	if !ok {
		return false
	}
	if err := fl.Unlock(); err != nil {
		logf.Errorf("releasing lock %q: %v", name, err)
		return false
	}
	// Best-effort removal; a missing file is not an error (another process
	// may have already cleaned it up), and leaving it behind is harmless --
	// the next Acquire recreates it.
	_ = os.Remove(l.Path(name))
	logf.Debugf("released lock %q", name)
	return true
}

// ReleaseAll releases every lock this Locker currently holds, used on
// shutdown the way the Python service's release_all_locks() was.
func (l *Locker) ReleaseAll() {
	l.mu.Lock()
	names := make([]string, 0, len(l.held))
	for name := range l.held {
		names = append(names, name)
	}
	l.mu.Unlock()

	for _, name := range names {
		l.Release(name)
	}
}

// Scoped acquires name, runs fn, and guarantees release on every exit path
// including a panic propagating out of fn (spec.md's "scoped-use construct
// guaranteeing release on all exit paths").
func (l *Locker) Scoped(name string, timeout time.Duration, fn func() error) error {
	ok, err := l.Acquire(name, timeout)
	if err != nil {
		return errors.Trace(err)
	}
	if !ok {
		return errors.Annotatef(ErrTimeout, "lock %q", name)
	}
	defer l.Release(name)
	return fn()
}

// writeLockInfo records the holder pid and acquisition time into the lock
// file, mirroring the Python lock manager's "pid\ntimestamp\n" format so
// get_lock_info/cleanup_stale have something to read.
func writeLockInfo(path string) error {
	info := []byte(pidTimestamp())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	if _, err := f.Write(info); err != nil {
		return errors.Trace(err)
	}
	return f.Sync()
}
