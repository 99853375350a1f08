package registry

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/atomicfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/lockfile"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("registry")

// Lock names used for the strict lock ordering required by §4.B:
// host_registry < host_leases < neighbor_leases < router_lock(r1) < router_lock(r2) < ...
const (
	lockHostRegistry   = "host_registry"
	lockHostLeases     = "host_leases"
	lockNeighborLeases = "neighbor_leases"
	routerLockPrefix   = "router_"
)

func routerLockName(router string) string { return routerLockPrefix + router }

// Manager is the Registry Manager: the single owner of the host registry,
// host/neighbor lease tables and router locks.
type Manager struct {
	cfg    config.Config
	locks  *lockfile.Locker
	clock  clock.Clock

	dataDir string

	// mu serializes in-process access; the file locks in `locks` serialize
	// cross-process access. Both are needed: mu protects the in-memory DSCP
	// pool (which has no file-backed counterpart), and file locks protect
	// the persisted JSON tables shared across processes.
	mu sync.Mutex

	dscp         *dscpPool
	routerOwners map[string]string
}

// New constructs a Manager rooted at cfg.DataDir / cfg.LockDir.
func New(cfg config.Config, clk clock.Clock) (*Manager, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	locks, err := lockfile.New(cfg.LockDir, clk, 25*time.Millisecond)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Manager{
		cfg:     cfg,
		locks:   locks,
		clock:   clk,
		dataDir: cfg.DataDir,
		dscp:    newDSCPPool(cfg.DSCPRange),
	}, nil
}

// CleanupStaleLocks reclaims any host_registry/host_leases/neighbor_leases/
// router_* lock file older than maxAge and no longer held, satisfying
// spec.md §4.A's cleanup_stale contract for the locks this manager owns.
func (m *Manager) CleanupStaleLocks(maxAge time.Duration) (int, error) {
	return m.locks.CleanupStale(maxAge)
}

func (m *Manager) hostsPath() string          { return filepath.Join(m.dataDir, "hosts.json") }
func (m *Manager) hostLeasesPath() string     { return filepath.Join(m.dataDir, "host_leases.json") }
func (m *Manager) neighborLeasesPath() string { return filepath.Join(m.dataDir, "neighbor_leases.json") }

// hostRegistry is the on-disk shape of hosts.json.
type hostRegistry struct {
	Hosts map[string]coremodel.HostRegistryEntry `json:"hosts"`
}

func (m *Manager) loadHosts() (hostRegistry, error) {
	var reg hostRegistry
	if err := atomicfile.ReadJSON(m.hostsPath(), &reg); err != nil {
		if isNotExist(err) {
			return hostRegistry{Hosts: map[string]coremodel.HostRegistryEntry{}}, nil
		}
		return hostRegistry{}, newError(KindCorruption, err, "reading host registry")
	}
	if reg.Hosts == nil {
		reg.Hosts = map[string]coremodel.HostRegistryEntry{}
	}
	return reg, nil
}

func (m *Manager) saveHosts(reg hostRegistry) error {
	if err := atomicfile.WriteJSON(m.hostsPath(), reg, 0o644); err != nil {
		return newError(KindCorruption, err, "writing host registry")
	}
	return nil
}

// leaseFile[K] is the generic on-disk shape shared by host_leases.json and
// neighbor_leases.json: a set of leases per resource key, each keyed by
// run_id. (REDESIGN FLAG: the Python original duplicated this table shape
// once for hosts and once for neighbors; Go generics let us express it once
// and instantiate it for each lease payload type instead.)
type leaseFile[T any] struct {
	Leases map[string]map[string]T `json:"leases"`
}

func loadLeaseFile[T any](path string) (leaseFile[T], error) {
	var lf leaseFile[T]
	if err := atomicfile.ReadJSON(path, &lf); err != nil {
		if isNotExist(err) {
			return leaseFile[T]{Leases: map[string]map[string]T{}}, nil
		}
		return leaseFile[T]{}, newError(KindCorruption, err, "reading lease table %q", path)
	}
	if lf.Leases == nil {
		lf.Leases = map[string]map[string]T{}
	}
	return lf, nil
}

func saveLeaseFile[T any](path string, lf leaseFile[T]) error {
	if err := atomicfile.WriteJSON(path, lf, 0o644); err != nil {
		return newError(KindCorruption, err, "writing lease table %q", path)
	}
	return nil
}

// isNotExist reports whether err (wrapped by atomicfile.ReadJSON via
// errors.Trace) ultimately came from a missing file, in which case callers
// should treat it as "table not yet created" rather than RegistryCorruption.
func isNotExist(err error) bool {
	return osIsNotExist(errors.Cause(err))
}

// Cleanup releases every lock this Manager's process holds. Intended for
// test teardown and graceful process shutdown.
func (m *Manager) Cleanup() {
	m.locks.ReleaseAll()
}
