// Package executor implements the Job Executor of spec.md §4.F: per-job
// orchestration of the Registry Manager, the external test runner, and the
// Progress Tracker, distinguishing the quick and detailed execution paths.
// Grounded on
// _examples/original_source/src/core/registry_manager_integration.py's
// QuickJobIntegrationExample / DetailedJobIntegrationExample, translated
// from Python try/finally into explicit deferred Go rollback.
package executor

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/hostbackend"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/progress"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/testrunner"
)

var logf = logger.Get("executor")

// Executor runs one job from dispatch to terminal progress state. It
// depends only on the narrow collaborators named in spec.md §6 (Design
// Note: dynamic dispatch over runtime-selected services -> small injected
// interfaces).
type Executor struct {
	cfg      config.Config
	clock    clock.Clock
	registry *registry.Manager
	queue    *queue.Service
	progress *progress.Tracker
	runner   testrunner.Runner
	backend  hostbackend.Backend // optional; nil is valid, see Design Note in hostbackend
}

// New constructs an Executor. backend may be nil; the Executor stores it but
// does not consult it on any path.
func New(cfg config.Config, clk clock.Clock, reg *registry.Manager, q *queue.Service, prog *progress.Tracker, runner testrunner.Runner, backend hostbackend.Backend) *Executor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Executor{cfg: cfg, clock: clk, registry: reg, queue: q, progress: prog, runner: runner, backend: backend}
}

// Run is the per-job entrypoint dispatched onto a worker pool slot by the
// Scheduler Loop. It never returns an error to the caller -- every outcome
// (success, failure, cancellation) is recorded via the Progress Tracker and
// the Queue Service's current-job marker, which is what downstream
// consumers (front-end, admin tooling) observe.
func (e *Executor) Run(ctx context.Context, job coremodel.Job) {
	if err := e.progress.CreateRunDirectory(job.RunID); err != nil {
		logf.Errorf("creating run directory for %s: %v", job.RunID, err)
	}

	cur := coremodel.CurrentJob{Job: job}
	cur.Job.Status = coremodel.StatusRunning
	if err := e.queue.SetCurrent(cur); err != nil {
		logf.Errorf("setting current job marker for %s: %v", job.RunID, err)
	}

	var runErr error
	var cancelled bool
	switch job.JobType {
	case coremodel.JobQuick:
		runErr, cancelled = e.runQuick(ctx, job)
	case coremodel.JobDetailed:
		runErr, cancelled = e.runDetailed(ctx, job)
	default:
		runErr = errors.Errorf("unknown job type %q", job.JobType)
	}

	switch {
	case cancelled:
		e.progress.LogPhase(job.RunID, "CANCELLED", "run cancelled", nil)
		e.progress.MarkComplete(job.RunID, false, "", "cancelled")
		logf.Infof("run %s cancelled", job.RunID)
	case runErr != nil:
		e.progress.MarkComplete(job.RunID, false, "", runErr.Error())
		logf.Warningf("run %s failed: %v", job.RunID, runErr)
	default:
		e.progress.MarkComplete(job.RunID, true, "", "")
		logf.Infof("run %s completed", job.RunID)
	}

	if err := e.queue.ClearCurrent(); err != nil {
		logf.Errorf("clearing current job marker for %s: %v", job.RunID, err)
	}
}

// checkCancelled reports whether job.RunID's current marker has
// cancel_requested set, satisfying §4.F's "checks cancel_requested at every
// major checkpoint" requirement and §8 P9.
func (e *Executor) checkCancelled(runID string) bool {
	cur, ok, err := e.queue.GetCurrent()
	if err != nil {
		logf.Warningf("checking cancellation for %s: %v", runID, err)
		return false
	}
	return ok && cur.RunID == runID && cur.CancelRequested
}

// dscpRule identifies one installed, non-destructive iptables rule set
// pending removal.
type dscpRule struct {
	router string
	dscp   int
}

func ruleKey(router string, dscp int) string { return fmt.Sprintf("%s/%d", router, dscp) }

// leaseRef records one source host lease acquired during a run, shared by
// both the quick and detailed paths so releaseLeases's
// release-then-maybe-teardown logic (§4.F.1 step 6 / §4.F.2 step 3, §8 P2)
// is written once.
type leaseRef struct {
	host, router string
}

// releaseLeases releases every lease this run acquired, in reverse order,
// tearing down the physical host and unregistering it whenever its
// reference count drops to zero.
func (e *Executor) releaseLeases(runID string, leases []leaseRef) {
	for i := len(leases) - 1; i >= 0; i-- {
		l := leases[i]
		released, rerr := e.registry.ReleaseSourceHostLease(runID, l.host)
		if rerr != nil {
			logf.Errorf("releasing lease on %s for %s: %v", l.host, runID, rerr)
			continue
		}
		if !released {
			continue
		}
		count, cerr := e.registry.GetHostLeaseCount(l.host)
		if cerr != nil {
			logf.Errorf("checking lease count for %s: %v", l.host, cerr)
			continue
		}
		if count != 0 {
			continue
		}
		if derr := e.runner.DeleteHost(context.Background(), l.host); derr != nil {
			logf.Errorf("deleting host %s: %v", l.host, derr)
		}
		if _, uerr := e.registry.UnregisterHost(l.host); uerr != nil {
			logf.Errorf("unregistering host %s: %v", l.host, uerr)
		}
	}
}
