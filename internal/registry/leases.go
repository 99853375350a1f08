package registry

import (
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
)

// AcquireSourceHostLease acquires (or, if runID already holds one, confirms)
// a reference-counted lease on hostName for the given run. Idempotent: a
// second call with the same (runID, hostName) pair is a no-op success, which
// lets a crashed-and-retried executor re-acquire safely (§4.B.3).
//
// Quick jobs are additionally assigned a DSCP marking from the in-process
// pool so concurrent quick jobs on the same router stay distinguishable on
// the wire; detailed jobs get none (dscp stays nil).
func (m *Manager) AcquireSourceHostLease(runID, hostName, routerName string, jobType coremodel.JobType) (*coremodel.HostLease, error) {
	ok, err := m.locks.Acquire(lockHostLeases, m.cfg.LockTimeouts.HostLeases)
	if err != nil {
		return nil, newError(KindLockTimeout, err, "acquiring host_leases lock")
	}
	if !ok {
		return nil, newError(KindLockTimeout, nil, "acquiring host_leases lock")
	}
	defer m.locks.Release(lockHostLeases)

	lf, err := loadLeaseFile[coremodel.HostLease](m.hostLeasesPath())
	if err != nil {
		return nil, err
	}

	byRun, exists := lf.Leases[hostName]
	if !exists {
		byRun = map[string]coremodel.HostLease{}
		lf.Leases[hostName] = byRun
	}
	if existing, already := byRun[runID]; already {
		existing := existing
		return &existing, nil
	}

	var dscp *int
	if jobType == coremodel.JobQuick {
		m.mu.Lock()
		v, got := m.dscp.acquire()
		m.mu.Unlock()
		if !got {
			return nil, newError(KindCapacity, nil, "dscp pool exhausted for router %q", routerName)
		}
		dscp = &v
	}

	lease := coremodel.HostLease{
		JobType:    jobType,
		RouterName: routerName,
		DSCP:       dscp,
		AcquiredAt: m.clock.Now(),
	}
	byRun[runID] = lease
	lf.Leases[hostName] = byRun

	if err := saveLeaseFile(m.hostLeasesPath(), lf); err != nil {
		if dscp != nil {
			m.mu.Lock()
			m.dscp.release(*dscp)
			m.mu.Unlock()
		}
		return nil, err
	}
	logf.Infof("acquired host lease %s on %q for run %s", hostName, routerName, runID)
	return &lease, nil
}

// ReleaseSourceHostLease drops runID's lease on hostName, returning any DSCP
// value it held to the pool. Releasing a lease that doesn't exist is a
// no-op, matching the idempotent teardown semantics required when executors
// retry cleanup after a crash.
func (m *Manager) ReleaseSourceHostLease(runID, hostName string) (bool, error) {
	ok, err := m.locks.Acquire(lockHostLeases, m.cfg.LockTimeouts.HostLeases)
	if err != nil {
		return false, newError(KindLockTimeout, err, "acquiring host_leases lock")
	}
	if !ok {
		return false, newError(KindLockTimeout, nil, "acquiring host_leases lock")
	}
	defer m.locks.Release(lockHostLeases)

	lf, err := loadLeaseFile[coremodel.HostLease](m.hostLeasesPath())
	if err != nil {
		return false, err
	}

	byRun, exists := lf.Leases[hostName]
	if !exists {
		return false, nil
	}
	lease, held := byRun[runID]
	if !held {
		return false, nil
	}
	delete(byRun, runID)
	if len(byRun) == 0 {
		delete(lf.Leases, hostName)
	} else {
		lf.Leases[hostName] = byRun
	}

	if err := saveLeaseFile(m.hostLeasesPath(), lf); err != nil {
		return false, err
	}

	if lease.DSCP != nil {
		m.mu.Lock()
		m.dscp.release(*lease.DSCP)
		m.mu.Unlock()
	}
	logf.Infof("released host lease %s for run %s", hostName, runID)
	return true, nil
}

// GetHostLeaseCount returns the number of distinct runs currently holding a
// lease on hostName, used by callers deciding whether a host is safe to
// unregister and tear down (§4.B.2).
func (m *Manager) GetHostLeaseCount(hostName string) (int, error) {
	ok, err := m.locks.Acquire(lockHostLeases, m.cfg.LockTimeouts.HostLeases)
	if err != nil {
		return 0, newError(KindLockTimeout, err, "acquiring host_leases lock")
	}
	if !ok {
		return 0, newError(KindLockTimeout, nil, "acquiring host_leases lock")
	}
	defer m.locks.Release(lockHostLeases)

	lf, err := loadLeaseFile[coremodel.HostLease](m.hostLeasesPath())
	if err != nil {
		return 0, err
	}
	return len(lf.Leases[hostName]), nil
}

// AcquireNeighborLease is AcquireSourceHostLease's neighbor-table twin: it
// reference-counts a lease on a directly-connected neighbor host that the
// test run touches but does not originate traffic from, and carries no DSCP
// (neighbors are never traffic sources, so there is nothing to distinguish
// on the wire).
func (m *Manager) AcquireNeighborLease(runID, neighborName string) (*coremodel.NeighborLease, error) {
	ok, err := m.locks.Acquire(lockNeighborLeases, m.cfg.LockTimeouts.NeighborLeases)
	if err != nil {
		return nil, newError(KindLockTimeout, err, "acquiring neighbor_leases lock")
	}
	if !ok {
		return nil, newError(KindLockTimeout, nil, "acquiring neighbor_leases lock")
	}
	defer m.locks.Release(lockNeighborLeases)

	lf, err := loadLeaseFile[coremodel.NeighborLease](m.neighborLeasesPath())
	if err != nil {
		return nil, err
	}

	byRun, exists := lf.Leases[neighborName]
	if !exists {
		byRun = map[string]coremodel.NeighborLease{}
		lf.Leases[neighborName] = byRun
	}
	if existing, already := byRun[runID]; already {
		existing := existing
		return &existing, nil
	}

	lease := coremodel.NeighborLease{AcquiredAt: m.clock.Now()}
	byRun[runID] = lease
	lf.Leases[neighborName] = byRun

	if err := saveLeaseFile(m.neighborLeasesPath(), lf); err != nil {
		return nil, err
	}
	logf.Infof("acquired neighbor lease %s for run %s", neighborName, runID)
	return &lease, nil
}

// ReleaseNeighborLease drops runID's lease on neighborName. A no-op if no
// such lease exists.
func (m *Manager) ReleaseNeighborLease(runID, neighborName string) (bool, error) {
	ok, err := m.locks.Acquire(lockNeighborLeases, m.cfg.LockTimeouts.NeighborLeases)
	if err != nil {
		return false, newError(KindLockTimeout, err, "acquiring neighbor_leases lock")
	}
	if !ok {
		return false, newError(KindLockTimeout, nil, "acquiring neighbor_leases lock")
	}
	defer m.locks.Release(lockNeighborLeases)

	lf, err := loadLeaseFile[coremodel.NeighborLease](m.neighborLeasesPath())
	if err != nil {
		return false, err
	}

	byRun, exists := lf.Leases[neighborName]
	if !exists {
		return false, nil
	}
	if _, held := byRun[runID]; !held {
		return false, nil
	}
	delete(byRun, runID)
	if len(byRun) == 0 {
		delete(lf.Leases, neighborName)
	} else {
		lf.Leases[neighborName] = byRun
	}

	if err := saveLeaseFile(m.neighborLeasesPath(), lf); err != nil {
		return false, err
	}
	logf.Infof("released neighbor lease %s for run %s", neighborName, runID)
	return true, nil
}

// GetNeighborLeaseCount mirrors GetHostLeaseCount for the neighbor table.
func (m *Manager) GetNeighborLeaseCount(neighborName string) (int, error) {
	ok, err := m.locks.Acquire(lockNeighborLeases, m.cfg.LockTimeouts.NeighborLeases)
	if err != nil {
		return 0, newError(KindLockTimeout, err, "acquiring neighbor_leases lock")
	}
	if !ok {
		return 0, newError(KindLockTimeout, nil, "acquiring neighbor_leases lock")
	}
	defer m.locks.Release(lockNeighborLeases)

	lf, err := loadLeaseFile[coremodel.NeighborLease](m.neighborLeasesPath())
	if err != nil {
		return 0, err
	}
	return len(lf.Leases[neighborName]), nil
}
