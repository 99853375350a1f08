package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
)

// CleanupStale removes lock files whose recorded timestamp is older than
// maxAge and which are not currently held (spec.md's cleanup_stale contract).
// Only "*.lock" files are considered; any other file in the directory, such
// as atomicfile's ".tmp" files or the queue's JSON state files that share
// the queue's lock directory, is left alone.
func (l *Locker) CleanupStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Annotatef(err, "reading lock directory %q", l.dir)
	}

	now := l.clock.Now()
	cleaned := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".lock")
		path := filepath.Join(l.dir, e.Name())

		_, ts, err := parseLockInfo(path)
		if err != nil {
			logf.Debugf("skipping unreadable lock file %q: %v", path, err)
			continue
		}
		if now.Sub(ts) <= maxAge {
			continue
		}
		if l.IsLocked(name) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logf.Warningf("removing stale lock %q: %v", path, err)
			continue
		}
		cleaned++
		logf.Infof("cleaned stale lock %q (age %s)", name, now.Sub(ts))
	}
	if cleaned > 0 {
		logf.Infof("cleaned %d stale locks", cleaned)
	}
	return cleaned, nil
}
