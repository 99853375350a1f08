package registry

import (
	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
)

// dscpPool hands out distinct DSCP markings to concurrent quick jobs sharing
// a router, per spec.md §3 "DSCP Allocation". It is purely in-process state:
// unlike the host registry and lease tables, DSCP assignment only needs to
// be consistent within a single scheduler process, since only one scheduler
// dispatches quick jobs at a time (the elected leader, §4.E).
type dscpPool struct {
	low, high int
	inUse     map[int]struct{}
	free      []int
}

func newDSCPPool(rng config.DSCPRange) *dscpPool {
	p := &dscpPool{
		low:   rng.Low,
		high:  rng.High,
		inUse: make(map[int]struct{}),
	}
	for v := rng.High; v >= rng.Low; v-- {
		p.free = append(p.free, v)
	}
	return p
}

// acquire pops the most recently released free DSCP value (the lowest value
// while none has been released yet) and marks it in use. It returns
// ok=false if the pool is exhausted; the lease acquisition then fails with
// KindCapacity and the executor fails the quick job. The scheduler avoids
// this by not dispatching a quick job while DSCPPoolStats reports no free
// value.
func (p *dscpPool) acquire() (int, bool) {
	if len(p.free) == 0 {
		return 0, false
	}
	v := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[v] = struct{}{}
	return v, true
}

// release returns v to the pool. Releasing a value not currently in use is a
// no-op, matching the idempotent-release semantics used throughout the
// Registry Manager's lease bookkeeping.
func (p *dscpPool) release(v int) {
	if _, ok := p.inUse[v]; !ok {
		return
	}
	delete(p.inUse, v)
	p.free = append(p.free, v)
}

// size returns the total capacity of the range, reported by DSCPPoolStats.
func (p *dscpPool) size() int { return p.high - p.low + 1 }

// inUseCount reports how many DSCP values are currently allocated, exposed
// for internal/metrics' DSCP pool utilization gauge.
func (p *dscpPool) inUseCount() int { return len(p.inUse) }

// DSCPPoolStats reports the DSCP pool's total capacity and currently-free
// count, for internal/metrics' gauge and the scheduler's capacity check
// (§4.E step 2: the quick-concurrency cap is bounded by the DSCP pool size).
func (m *Manager) DSCPPoolStats() (free, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total = m.dscp.size()
	free = total - m.dscp.inUseCount()
	return free, total
}
