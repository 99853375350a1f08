package executor

import (
	"context"

	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/testrunner"
)

// runQuick implements §4.F.1. Many quick jobs run in parallel on the same
// router, distinguished only by their DSCP marking; quick jobs never hold a
// router lock, only wait_for_router to avoid racing a detailed job's
// exclusive hold.
func (e *Executor) runQuick(ctx context.Context, job coremodel.Job) (err error, cancelled bool) {
	params, perr := decodeParams[QuickParams](job.Params)
	if perr != nil {
		return perr, false
	}

	var leases []leaseRef
	installedRules := map[string]dscpRule{}

	defer func() {
		for key, r := range installedRules {
			if rerr := e.runner.RemoveRules(context.Background(), r.router, r.dscp); rerr != nil {
				logf.Errorf("removing rules %s: %v", key, rerr)
			}
		}
		e.releaseLeases(job.RunID, leases)
	}()

	for _, router := range params.Routers {
		if e.checkCancelled(job.RunID) {
			return nil, true
		}
		ok, werr := e.registry.WaitForRouter(router, e.cfg.LockTimeouts.RouterLock)
		if werr != nil {
			return werr, false
		}
		if !ok {
			return errors.Errorf("timed out waiting for router %q to clear", router), false
		}
	}
	e.progress.LogPhase(job.RunID, "QUICK_ROUTERS_READY", "routers clear of exclusive holds", nil)

	var primaryDSCP *int
	for _, h := range params.SourceHosts {
		if e.checkCancelled(job.RunID) {
			return nil, true
		}
		created, cerr := e.registry.CheckAndRegisterHost(h.HostName, h.PrimaryIP, h.Router, h.MACAddress)
		if cerr != nil {
			return cerr, false
		}
		if created {
			if herr := e.runner.CreateHost(ctx, h.HostName, h.PrimaryIP, h.Router, h.MACAddress); herr != nil {
				e.registry.UnregisterHost(h.HostName)
				return herr, false
			}
		}
		lease, lerr := e.registry.AcquireSourceHostLease(job.RunID, h.HostName, h.Router, coremodel.JobQuick)
		if lerr != nil {
			return lerr, false
		}
		leases = append(leases, leaseRef{host: h.HostName, router: h.Router})
		if lease.DSCP != nil {
			installedRules[ruleKey(h.Router, *lease.DSCP)] = dscpRule{router: h.Router, dscp: *lease.DSCP}
			if primaryDSCP == nil {
				v := *lease.DSCP
				primaryDSCP = &v
			}
		}
	}
	e.progress.LogPhase(job.RunID, "QUICK_HOSTS_READY", "source hosts registered and leased", nil)

	for key, r := range installedRules {
		if ierr := e.runner.InstallRules(ctx, r.router, r.dscp); ierr != nil {
			return errors.Annotatef(ierr, "installing rules %s", key), false
		}
	}
	e.progress.LogPhase(job.RunID, "QUICK_RULES_INSTALLED", "dscp-scoped rules installed", nil)

	if e.checkCancelled(job.RunID) {
		return nil, true
	}

	result, terr := e.runner.RunTest(ctx, testrunner.Job{RunID: job.RunID, Params: job.Params}, primaryDSCP)

	for key, r := range installedRules {
		if rerr := e.runner.RemoveRules(ctx, r.router, r.dscp); rerr != nil {
			logf.Errorf("removing rules %s: %v", key, rerr)
		}
	}
	installedRules = map[string]dscpRule{}
	e.progress.LogPhase(job.RunID, "QUICK_RULES_REMOVED", "dscp-scoped rules removed", nil)

	if terr != nil {
		return terr, false
	}
	if !result.Success {
		return errors.New(result.Message), false
	}
	return nil, false
}
