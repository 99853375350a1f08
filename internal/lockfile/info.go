package lockfile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/juju/errors"
)

// Info describes a lock file's recorded holder, mirroring the Python lock
// manager's get_lock_info() return shape.
type Info struct {
	Name      string
	PID       int
	Timestamp time.Time
	Age       time.Duration
	Locked    bool
}

func pidTimestamp() string {
	return fmt.Sprintf("%d\n%d\n", os.Getpid(), time.Now().UnixNano())
}

func parseLockInfo(path string) (pid int, ts time.Time, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, time.Time{}, errors.Trace(err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
		if len(lines) == 2 {
			break
		}
	}
	if len(lines) < 2 {
		return 0, time.Time{}, errors.NotValidf("lock info in %q", path)
	}
	pid, err = strconv.Atoi(lines[0])
	if err != nil {
		return 0, time.Time{}, errors.Annotatef(err, "parsing pid in %q", path)
	}
	nanos, err := strconv.ParseInt(lines[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, errors.Annotatef(err, "parsing timestamp in %q", path)
	}
	return pid, time.Unix(0, nanos), nil
}

// GetInfo returns the recorded holder information for name, or
// (nil, nil) if the lock file does not exist.
func (l *Locker) GetInfo(name string) (*Info, error) {
	path := l.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	pid, ts, err := parseLockInfo(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Info{
		Name:      name,
		PID:       pid,
		Timestamp: ts,
		Age:       time.Since(ts),
		Locked:    l.IsLocked(name),
	}, nil
}

// IsLocked reports whether name is currently held by any process, including
// this one. It is a point-in-time probe (try-lock-then-unlock), matching the
// Python implementation's is_locked().
func (l *Locker) IsLocked(name string) bool {
	l.mu.Lock()
	_, heldByUs := l.held[name]
	l.mu.Unlock()
	if heldByUs {
		return true
	}

	path := l.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}
