package registry

import (
	"time"

	"github.com/juju/collections/set"
)

// AcquireRouterLock acquires the named exclusive lock for router, recording
// jobID as the owner. Ownership is tracked in-process because
// release_router_lock must refuse to release a lock on behalf of a caller
// that doesn't own it (§4.B.3) -- something the bare flock underneath
// internal/lockfile has no notion of.
func (m *Manager) AcquireRouterLock(router, jobID string, timeout time.Duration) (bool, error) {
	ok, err := m.locks.Acquire(routerLockName(router), timeout)
	if err != nil {
		return false, newError(KindLockTimeout, err, "acquiring router lock %q", router)
	}
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	if m.routerOwners == nil {
		m.routerOwners = map[string]string{}
	}
	m.routerOwners[router] = jobID
	m.mu.Unlock()
	return true, nil
}

// ReleaseRouterLock releases router's lock if and only if jobID is its
// current owner. A non-owner release attempt is a no-op returning false, per
// §4.B.3.
func (m *Manager) ReleaseRouterLock(router, jobID string) bool {
	m.mu.Lock()
	owner, held := m.routerOwners[router]
	if !held || owner != jobID {
		m.mu.Unlock()
		return false
	}
	delete(m.routerOwners, router)
	m.mu.Unlock()

	return m.locks.Release(routerLockName(router))
}

// AcquireAllRouterLocksAtomic implements §4.B.4's all-or-nothing multi-router
// acquisition: routers are sorted into a single fixed global order, acquired
// in that order, each router given the whole time left before one shared
// deadline, and
// on any failure every lock acquired so far is released in reverse order
// before returning false. Because every caller sorts routers the same way,
// two callers racing for overlapping router sets can never form a cycle --
// the one that reaches the front of the sorted order first wins that router,
// and the other blocks (or times out and unwinds) rather than deadlocking.
func (m *Manager) AcquireAllRouterLocksAtomic(routers []string, jobID string, timeout time.Duration) (bool, error) {
	sorted := set.NewStrings(routers...).SortedValues()
	if len(sorted) == 0 {
		return true, nil
	}

	deadline := m.clock.Now().Add(timeout)
	acquired := make([]string, 0, len(sorted))

	for _, router := range sorted {
		remaining := deadline.Sub(m.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
		ok, err := m.AcquireRouterLock(router, jobID, remaining)
		if err != nil {
			m.rollbackRouterLocks(acquired, jobID)
			return false, err
		}
		if !ok {
			m.rollbackRouterLocks(acquired, jobID)
			return false, nil
		}
		acquired = append(acquired, router)
	}
	return true, nil
}

// rollbackRouterLocks releases every router in acquired, in reverse order,
// as required by §4.B.4 step 3.
func (m *Manager) rollbackRouterLocks(acquired []string, jobID string) {
	for i := len(acquired) - 1; i >= 0; i-- {
		m.ReleaseRouterLock(acquired[i], jobID)
	}
}

// AllRouterLocks is the scoped form of AcquireAllRouterLocksAtomic: it
// guarantees release of every lock on any exit path from fn, including a
// panic, matching §4.B.4's "scoped section" requirement.
func (m *Manager) AllRouterLocks(routers []string, jobID string, timeout time.Duration, fn func() error) error {
	ok, err := m.AcquireAllRouterLocksAtomic(routers, jobID, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindLockTimeout, nil, "acquiring all router locks %v", routers)
	}
	sorted := set.NewStrings(routers...).SortedValues()
	defer func() {
		for i := len(sorted) - 1; i >= 0; i-- {
			m.ReleaseRouterLock(sorted[i], jobID)
		}
	}()
	return fn()
}

// WaitForRouter blocks until router's lock is free (by anyone, not
// necessarily the caller) or timeout elapses, without acquiring it. Quick
// jobs use this to wait out a detailed job's hold on a router without
// contending for the router lock themselves (§4.B.5, §4.F quick path step 1).
func (m *Manager) WaitForRouter(router string, timeout time.Duration) (bool, error) {
	return m.locks.WaitFree(routerLockName(router), timeout)
}
