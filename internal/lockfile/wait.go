package lockfile

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// pollFallback is the bounded poll interval: the only wake-up source when an
// fsnotify watch could not be established, and a safety-net re-check tick
// alongside a live watch.
const pollFallback = 100 * time.Millisecond

// WaitFree blocks until the named lock is free -- not necessarily acquired
// by the caller -- or timeout elapses, returning whether it became free.
// This backs §4.B.5 wait_for_router: many quick jobs can be waiting on the
// same router lock, and all of them need to wake as soon as a detailed job
// releases it, without polling (the Design Notes call this out explicitly).
//
// The implementation watches the lock directory with fsnotify rather than
// the lock file itself: the file is removed on Release and recreated on the
// next Acquire, and a watch on a single path does not survive a remove+
// recreate cycle on all platforms, whereas a directory watch does.
func (l *Locker) WaitFree(name string, timeout time.Duration) (bool, error) {
	if !l.IsLocked(name) {
		return true, nil
	}

	deadline := l.clock.Now().Add(timeout)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return l.waitFreePoll(name, deadline)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return l.waitFreePoll(name, deadline)
	}

	path := l.Path(name)
	for {
		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			return !l.IsLocked(name), nil
		}

		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return l.waitFreePoll(name, deadline)
			}
			if ev.Name != path {
				continue
			}
			if !l.IsLocked(name) {
				return true, nil
			}
		case <-watcher.Errors:
			// Degrade to polling rather than failing the wait outright.
			return l.waitFreePoll(name, deadline)
		case <-l.clock.After(minDuration(remaining, pollFallback)):
			// Safety-net tick: fsnotify can miss events delivered by another
			// process between Add() and the first watcher.Events receive, so
			// we still re-check on a bounded cadence even with a live watch.
			if !l.IsLocked(name) {
				return true, nil
			}
		}
	}
}

func (l *Locker) waitFreePoll(name string, deadline time.Time) (bool, error) {
	for {
		if !l.IsLocked(name) {
			return true, nil
		}
		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		<-l.clock.After(minDuration(remaining, pollFallback))
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
