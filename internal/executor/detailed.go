package executor

import (
	"context"

	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/testrunner"
)

// runDetailed implements §4.F.2: exclusive access to every router in the
// job's set for the duration of the measurement, via
// registry.Manager.AllRouterLocks's scoped all-or-nothing acquisition.
func (e *Executor) runDetailed(ctx context.Context, job coremodel.Job) (err error, cancelled bool) {
	params, perr := decodeParams[DetailedParams](job.Params)
	if perr != nil {
		return perr, false
	}

	lockErr := e.registry.AllRouterLocks(params.Routers, job.RunID, e.cfg.LockTimeouts.RouterLockAtomic, func() error {
		var leases []leaseRef
		defer func() { e.releaseLeases(job.RunID, leases) }()

		for _, h := range params.SourceHosts {
			if e.checkCancelled(job.RunID) {
				cancelled = true
				return nil
			}
			created, cerr := e.registry.CheckAndRegisterHost(h.HostName, h.PrimaryIP, h.Router, h.MACAddress)
			if cerr != nil {
				return cerr
			}
			if created {
				if herr := e.runner.CreateHost(ctx, h.HostName, h.PrimaryIP, h.Router, h.MACAddress); herr != nil {
					e.registry.UnregisterHost(h.HostName)
					return herr
				}
			}
			if _, lerr := e.registry.AcquireSourceHostLease(job.RunID, h.HostName, h.Router, coremodel.JobDetailed); lerr != nil {
				return lerr
			}
			leases = append(leases, leaseRef{host: h.HostName, router: h.Router})
		}
		e.progress.LogPhase(job.RunID, "DETAILED_HOSTS_READY", "source hosts registered and leased", nil)
		if cancelled {
			return nil
		}

		var destHosts []string
		defer func() {
			for i := len(destHosts) - 1; i >= 0; i-- {
				if derr := e.runner.DeleteHost(context.Background(), destHosts[i]); derr != nil {
					logf.Errorf("tearing down destination host %s: %v", destHosts[i], derr)
				}
			}
		}()
		for _, d := range params.DestinationHosts {
			if e.checkCancelled(job.RunID) {
				cancelled = true
				return nil
			}
			if herr := e.runner.CreateHost(ctx, d.HostName, d.PrimaryIP, d.Router, d.MACAddress); herr != nil {
				return errors.Annotatef(herr, "creating destination host %s", d.HostName)
			}
			destHosts = append(destHosts, d.HostName)
		}
		e.progress.LogPhase(job.RunID, "DETAILED_DESTINATIONS_READY", "ephemeral destination hosts created", nil)

		baseline := map[string]map[string]int64{}
		for _, router := range params.Routers {
			counters, cerr := e.runner.ReadCounters(ctx, router)
			if cerr != nil {
				return errors.Annotatef(cerr, "reading baseline counters on %s", router)
			}
			baseline[router] = counters
		}
		e.progress.LogPhase(job.RunID, "DETAILED_BASELINE_READ", "baseline packet counters captured", nil)

		if e.checkCancelled(job.RunID) {
			cancelled = true
			return nil
		}

		result, terr := e.runner.RunTest(ctx, testrunner.Job{RunID: job.RunID, Params: job.Params}, nil)
		if terr != nil {
			return terr
		}

		deltas := map[string]map[string]int64{}
		for _, router := range params.Routers {
			final, cerr := e.runner.ReadCounters(ctx, router)
			if cerr != nil {
				return errors.Annotatef(cerr, "reading final counters on %s", router)
			}
			delta := map[string]int64{}
			for k, v := range final {
				delta[k] = v - baseline[router][k]
			}
			deltas[router] = delta
		}
		e.progress.LogPhase(job.RunID, "DETAILED_COUNTERS_COMPUTED", "counter deltas computed", map[string]interface{}{"deltas": deltas})

		if !result.Success {
			return errors.New(result.Message)
		}
		return nil
	})

	if lockErr != nil {
		return lockErr, false
	}
	return nil, cancelled
}
