// Package metrics exposes the scheduler's live dispatch state as Prometheus
// gauges for an operator to scrape. It is purely observational: nothing in
// this module reads these gauges back, keeping it an ambient concern rather
// than a functional dependency (SPEC_FULL's SUPPLEMENTED FEATURES), grounded
// on github.com/prometheus/client_golang the way the pack's kubernaut and
// juju-juju components expose their own gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
)

var logf = logger.Get("metrics")

// DispatchCounts is the narrow capability metrics needs from the Scheduler
// Loop -- just enough to report gauges, without metrics importing the full
// scheduler package surface.
type DispatchCounts interface {
	Snapshot() (runningQuick, runningDetailed int)
}

// Register creates and registers the gauge set against reg. Every gauge is
// a GaugeFunc pulling live state at scrape time rather than a value pushed
// on every mutation, so there is no additional bookkeeping anywhere else in
// the module.
func Register(reg prometheus.Registerer, q *queue.Service, rm *registry.Manager, dispatch DispatchCounts) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsimd",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued (not yet dispatched).",
		}, func() float64 {
			jobs, err := q.ListJobs()
			if err != nil {
				logf.Warningf("reading queue depth: %v", err)
				return 0
			}
			return float64(len(jobs))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsimd",
			Name:      "running_quick_jobs",
			Help:      "Number of quick jobs currently executing.",
		}, func() float64 {
			running, _ := dispatch.Snapshot()
			return float64(running)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsimd",
			Name:      "running_detailed_jobs",
			Help:      "Number of detailed jobs currently executing (0 or 1).",
		}, func() float64 {
			_, running := dispatch.Snapshot()
			return float64(running)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsimd",
			Name:      "dscp_pool_free",
			Help:      "Number of DSCP values currently free for quick-job allocation.",
		}, func() float64 {
			free, _ := rm.DSCPPoolStats()
			return float64(free)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tsimd",
			Name:      "dscp_pool_size",
			Help:      "Total configured DSCP pool capacity.",
		}, func() float64 {
			_, total := rm.DSCPPoolStats()
			return float64(total)
		}),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
