// Package config loads the single immutable Config value that is threaded
// explicitly into every component constructor in this module (Design Note:
// context/config propagation). There is no package-level global state here;
// a Config is just data, and every component that needs one takes it (or a
// narrower slice of it) as a constructor argument.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/juju/errors"
)

// LockTimeouts holds the per-category lock timeouts referenced throughout
// §4.B (host_registry, host_leases, neighbor_leases, router_lock,
// router_lock_atomic) plus the scheduler_leader leader-election lock.
type LockTimeouts struct {
	HostRegistry     time.Duration `json:"host_registry"`
	HostLeases       time.Duration `json:"host_leases"`
	NeighborLeases   time.Duration `json:"neighbor_leases"`
	RouterLock       time.Duration `json:"router_lock"`
	RouterLockAtomic time.Duration `json:"router_lock_atomic"`
	SchedulerLeader  time.Duration `json:"scheduler_leader"`
	Queue            time.Duration `json:"queue"`
}

// DSCPRange is the inclusive [Low, High] range quick jobs draw DSCP values
// from (§3 DSCP Allocation).
type DSCPRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Size returns the number of distinct DSCP values in the range, which also
// bounds the quick-concurrency cap (§4.E step 2).
func (r DSCPRange) Size() int {
	if r.High < r.Low {
		return 0
	}
	return r.High - r.Low + 1
}

// Config is the recognized option set from spec.md §6.
type Config struct {
	DataDir  string `json:"data_dir"`
	LockDir  string `json:"lock_dir"`
	RunDir   string `json:"run_dir"`

	SessionTimeout    time.Duration `json:"session_timeout"`
	CleanupAge        time.Duration `json:"cleanup_age"`
	QueuePollInterval time.Duration `json:"queue_poll_interval"`
	QueuePollIdle     time.Duration `json:"queue_poll_idle"`

	QuickConcurrency int       `json:"quick_concurrency"`
	DSCPRange        DSCPRange `json:"dscp_range"`

	LockTimeouts LockTimeouts `json:"lock_timeouts"`

	// JobTimeout is the overall per-job wall-clock timeout (§5 "Timeouts:
	// overall per-job timeout kills the run and forces unwind").
	JobTimeout time.Duration `json:"job_timeout"`

	// WorkerPoolMargin is the small margin of extra worker-pool slots beyond
	// QuickConcurrency reserved for detailed jobs (§5 "Scheduling model").
	WorkerPoolMargin int `json:"worker_pool_margin"`

	// ScriptDir locates the external test-runner scripts the default
	// testrunner.Runner shells out to (§6's consumed "Test runner"
	// collaborator is, in the original deployment, a family of scripts
	// invoked via subprocess -- see internal/testrunner/shellrunner.go).
	ScriptDir string `json:"script_dir"`
}

// Default returns a Config with the same defaults the original Python
// service shipped (RAM-backed /dev/shm paths, one-hour session timeout,
// one-day disk cleanup age).
func Default() Config {
	return Config{
		DataDir:           "/dev/shm/tsim",
		LockDir:           "/dev/shm/tsim/locks",
		RunDir:            "/dev/shm/tsim/runs",
		SessionTimeout:    time.Hour,
		CleanupAge:        24 * time.Hour,
		QueuePollInterval: 500 * time.Millisecond,
		QueuePollIdle:     3 * time.Second,
		QuickConcurrency:  8,
		DSCPRange:         DSCPRange{Low: 32, High: 63},
		LockTimeouts: LockTimeouts{
			HostRegistry:     5 * time.Second,
			HostLeases:       3 * time.Second,
			NeighborLeases:   3 * time.Second,
			RouterLock:       30 * time.Second,
			RouterLockAtomic: 60 * time.Second,
			SchedulerLeader:  2 * time.Second,
			Queue:            5 * time.Second,
		},
		JobTimeout:       10 * time.Minute,
		WorkerPoolMargin: 2,
		ScriptDir:        "/usr/local/libexec/tsimd",
	}
}

// Load reads a Config from a JSON file, seeding unset fields from Default()
// first so a partial config.json (the common case in the original deployment)
// still yields a fully-populated Config.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "opening config %q", path)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, errors.Annotatef(err, "decoding config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks the handful of invariants the rest of the module relies on
// without re-deriving them at every call site.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.NotValidf("empty data_dir")
	}
	if c.LockDir == "" {
		return errors.NotValidf("empty lock_dir")
	}
	if c.RunDir == "" {
		return errors.NotValidf("empty run_dir")
	}
	if c.QuickConcurrency <= 0 {
		return errors.NotValidf("quick_concurrency %d", c.QuickConcurrency)
	}
	if c.DSCPRange.Size() <= 0 {
		return errors.NotValidf("dscp_range [%d,%d]", c.DSCPRange.Low, c.DSCPRange.High)
	}
	if c.QuickConcurrency > c.DSCPRange.Size() {
		return errors.NotValidf(
			"quick_concurrency %d exceeds dscp_range size %d", c.QuickConcurrency, c.DSCPRange.Size())
	}
	return nil
}
