package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/executor"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/testrunner"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/workerpool"
)

// noopRunner is a testrunner.Runner that does nothing and always succeeds,
// enough to let a dispatched job run to completion inside tick() without
// touching any real host backend.
type noopRunner struct{}

func (noopRunner) CreateHost(ctx context.Context, name, ip, router, mac string) error { return nil }
func (noopRunner) DeleteHost(ctx context.Context, name string) error                  { return nil }
func (noopRunner) InstallRules(ctx context.Context, router string, dscp int) error    { return nil }
func (noopRunner) RemoveRules(ctx context.Context, router string, dscp int) error     { return nil }
func (noopRunner) ReadCounters(ctx context.Context, router string) (map[string]int64, error) {
	return nil, nil
}
func (noopRunner) RunTest(ctx context.Context, job testrunner.Job, dscp *int) (testrunner.Result, error) {
	return testrunner.Result{Success: true}, nil
}

// newTestLoop builds a Loop directly (bypassing New's catacomb goroutine and
// leader election entirely) so tick()'s dispatch-gating branches can be
// exercised synchronously, in a single goroutine, against real queue and
// registry state.
func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LockDir = filepath.Join(dir, "locks")
	cfg.RunDir = filepath.Join(dir, "runs")
	cfg.LockTimeouts.HostRegistry = time.Second
	cfg.LockTimeouts.HostLeases = time.Second
	cfg.LockTimeouts.NeighborLeases = time.Second
	cfg.LockTimeouts.RouterLock = time.Second
	cfg.LockTimeouts.RouterLockAtomic = 2 * time.Second
	cfg.LockTimeouts.Queue = time.Second
	cfg.QuickConcurrency = 2
	cfg.DSCPRange = config.DSCPRange{Low: 10, High: 11}

	reg, err := registry.New(cfg, clock.WallClock)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	t.Cleanup(reg.Cleanup)

	q, err := queue.New(cfg, clock.WallClock)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	t.Cleanup(q.Cleanup)

	prog, err := progress.New(cfg.RunDir, clock.WallClock)
	if err != nil {
		t.Fatalf("progress.New: %v", err)
	}
	exec := executor.New(cfg, clock.WallClock, reg, q, prog, noopRunner{}, nil)

	return &Loop{
		cfg:      cfg,
		clock:    clock.WallClock,
		queue:    q,
		registry: reg,
		executor: exec,
		pool:     workerpool.New(4),
		quick:    make(map[string]struct{}),
		detailed: make(map[string]struct{}),
	}
}

func enqueue(t *testing.T, l *Loop, runID string, jobType coremodel.JobType) {
	t.Helper()
	if _, err := l.queue.Enqueue(runID, "alice", jobType, map[string]interface{}{
		"routers":      []string{"r1"},
		"source_hosts": []map[string]interface{}{},
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

// TestTickEmptyQueueDoesNotDispatch covers the trivial no-work case: an
// empty queue never dispatches and never errors.
func TestTickEmptyQueueDoesNotDispatch(t *testing.T) {
	l := newTestLoop(t)
	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched {
		t.Fatal("expected no dispatch on an empty queue")
	}
}

// TestTickDetailedWaitsForQuicksToDrain covers §8 S6 / §4.E step 3: a
// detailed job at the head of the queue does not dispatch while any quick
// job is still running, since detailed jobs require exclusive access.
func TestTickDetailedWaitsForQuicksToDrain(t *testing.T) {
	l := newTestLoop(t)
	enqueue(t, l, "run-detailed", coremodel.JobDetailed)
	l.markRunning("run-quick-in-flight", coremodel.JobQuick)

	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched {
		t.Fatal("expected the detailed job to wait while a quick job is running")
	}

	jobs, err := l.queue.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the detailed job to remain queued, got %d jobs", len(jobs))
	}
}

// TestTickDetailedWaitsForDetailedToDrain is the same gate, triggered by an
// in-flight detailed job instead of a quick one (detailed jobs are mutually
// exclusive with each other too).
func TestTickDetailedWaitsForDetailedToDrain(t *testing.T) {
	l := newTestLoop(t)
	enqueue(t, l, "run-detailed-2", coremodel.JobDetailed)
	l.markRunning("run-detailed-in-flight", coremodel.JobDetailed)

	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched {
		t.Fatal("expected the detailed job to wait while another detailed job is running")
	}
}

// TestTickQuickConcurrencyCapBlocksDispatch covers §4.E step 2: a quick job
// does not dispatch once the number of running quick jobs already meets
// cfg.QuickConcurrency.
func TestTickQuickConcurrencyCapBlocksDispatch(t *testing.T) {
	l := newTestLoop(t)
	enqueue(t, l, "run-quick", coremodel.JobQuick)
	for i := 0; i < l.cfg.QuickConcurrency; i++ {
		l.markRunning(runIDFor(i), coremodel.JobQuick)
	}

	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched {
		t.Fatal("expected the quick job to wait for a free concurrency slot")
	}
}

func runIDFor(i int) string {
	return "already-running-" + string(rune('a'+i))
}

// TestTickDSCPPoolExhaustionBlocksDispatch covers §7 Capacity / §4.E step 4:
// a quick job at the head of the queue is left in place when the DSCP pool
// has no free values, rather than being popped and failing.
func TestTickDSCPPoolExhaustionBlocksDispatch(t *testing.T) {
	l := newTestLoop(t)
	enqueue(t, l, "run-quick-a", coremodel.JobQuick)

	// Exhaust the DSCP pool: the test pool configured in newTestLoop
	// (cfg.DSCPRange {10, 11}) has exactly 2 values, so acquire both directly
	// to simulate exhaustion by other in-flight quick jobs.
	if _, err := l.registry.AcquireSourceHostLease("other-run-1", "h1", "r1", coremodel.JobQuick); err != nil {
		t.Fatalf("AcquireSourceHostLease: %v", err)
	}
	if _, err := l.registry.AcquireSourceHostLease("other-run-2", "h2", "r1", coremodel.JobQuick); err != nil {
		t.Fatalf("AcquireSourceHostLease: %v", err)
	}
	if free, _ := l.registry.DSCPPoolStats(); free != 0 {
		t.Fatalf("expected DSCP pool to be exhausted, got %d free", free)
	}

	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if dispatched {
		t.Fatal("expected dispatch to be skipped while the DSCP pool is exhausted")
	}

	jobs, err := l.queue.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected the quick job to remain at the head of the queue, got %d jobs", len(jobs))
	}
}

// TestTickDispatchesWhenCapacityAllows covers the positive path: a quick job
// is popped off the queue and dispatched to the worker pool when neither gate
// applies, and tick() reports dispatched=true.
func TestTickDispatchesWhenCapacityAllows(t *testing.T) {
	l := newTestLoop(t)
	enqueue(t, l, "run-quick-ok", coremodel.JobQuick)

	dispatched, err := l.tick()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !dispatched {
		t.Fatal("expected the quick job to dispatch")
	}

	jobs, err := l.queue.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected the dispatched job to be popped off the queue, got %d remaining", len(jobs))
	}

	l.pool.Wait()
}
