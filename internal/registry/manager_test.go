package registry_test

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
)

func newManager(t *testing.T) *registry.Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.LockDir = filepath.Join(dir, "locks")
	cfg.LockTimeouts.HostRegistry = time.Second
	cfg.LockTimeouts.HostLeases = time.Second
	cfg.LockTimeouts.NeighborLeases = time.Second
	cfg.LockTimeouts.RouterLock = time.Second
	cfg.LockTimeouts.RouterLockAtomic = 2 * time.Second

	m, err := registry.New(cfg, clock.WallClock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Cleanup)
	return m
}

func TestCheckAndRegisterHostSuccess(t *testing.T) {
	m := newManager(t)

	ok, err := m.CheckAndRegisterHost("host-1", "10.0.0.1/24", "router-1", "aa:bb:cc:dd:ee:01")
	if err != nil || !ok {
		t.Fatalf("CheckAndRegisterHost = %v, %v", ok, err)
	}

	info, err := m.GetHostInfo("host-1")
	if err != nil {
		t.Fatalf("GetHostInfo: %v", err)
	}
	if info == nil || info.PrimaryIP != "10.0.0.1/24" || info.ConnectedTo != "router-1" {
		t.Fatalf("unexpected host info: %+v", info)
	}
}

// TestCheckAndRegisterHostCollision covers P3/S3: name, IP and MAC
// collisions must each be rejected, and exactly one registration of a
// contended identity succeeds.
func TestCheckAndRegisterHostCollision(t *testing.T) {
	m := newManager(t)

	ok, err := m.CheckAndRegisterHost("host-1", "10.0.0.1/24", "router-1", "aa:bb:cc:dd:ee:01")
	if err != nil || !ok {
		t.Fatalf("first register: %v, %v", ok, err)
	}

	cases := []struct {
		name     string
		hostName string
		ip       string
		mac      string
	}{
		{"name collision", "host-1", "10.0.0.2/24", "aa:bb:cc:dd:ee:02"},
		{"ip collision", "host-2", "10.0.0.1/24", "aa:bb:cc:dd:ee:02"},
		{"mac collision", "host-3", "10.0.0.3/24", "aa:bb:cc:dd:ee:01"},
	}
	for _, tc := range cases {
		ok, err := m.CheckAndRegisterHost(tc.hostName, tc.ip, "router-2", tc.mac)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if ok {
			t.Fatalf("%s: expected collision rejection", tc.name)
		}
	}
}

func TestUnregisterHost(t *testing.T) {
	m := newManager(t)
	m.CheckAndRegisterHost("host-1", "10.0.0.1/24", "router-1", "aa:bb:cc:dd:ee:01")

	ok, err := m.UnregisterHost("host-1")
	if err != nil || !ok {
		t.Fatalf("UnregisterHost = %v, %v", ok, err)
	}
	info, err := m.GetHostInfo("host-1")
	if err != nil {
		t.Fatalf("GetHostInfo: %v", err)
	}
	if info != nil {
		t.Fatalf("expected host to be gone, got %+v", info)
	}

	ok, err = m.UnregisterHost("nonexistent")
	if err != nil || ok {
		t.Fatalf("UnregisterHost(nonexistent) = %v, %v", ok, err)
	}
}

func TestListAllHosts(t *testing.T) {
	m := newManager(t)
	m.CheckAndRegisterHost("host-1", "10.0.0.1/24", "router-1", "aa:bb:cc:dd:ee:01")
	m.CheckAndRegisterHost("host-2", "10.0.0.2/24", "router-2", "aa:bb:cc:dd:ee:02")

	hosts, err := m.ListAllHosts()
	if err != nil {
		t.Fatalf("ListAllHosts: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
}

// TestAcquireReleaseHostLease covers P1/P2: reference-counted leases and
// idempotent double-acquisition by the same run.
func TestAcquireReleaseHostLease(t *testing.T) {
	m := newManager(t)
	m.CheckAndRegisterHost("host-1", "10.0.0.1/24", "router-1", "aa:bb:cc:dd:ee:01")

	lease1, err := m.AcquireSourceHostLease("job-1", "host-1", "router-1", coremodel.JobQuick)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if lease1.DSCP == nil {
		t.Fatal("expected a DSCP value for a quick job lease")
	}

	lease2, err := m.AcquireSourceHostLease("job-2", "host-1", "router-1", coremodel.JobQuick)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if *lease2.DSCP == *lease1.DSCP {
		t.Fatal("two concurrent quick leases on the same host must get distinct DSCP values")
	}

	count, err := m.GetHostLeaseCount("host-1")
	if err != nil || count != 2 {
		t.Fatalf("GetHostLeaseCount = %d, %v", count, err)
	}

	// Idempotent re-acquisition by job-1 must not create a second reference.
	again, err := m.AcquireSourceHostLease("job-1", "host-1", "router-1", coremodel.JobQuick)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if *again.DSCP != *lease1.DSCP {
		t.Fatal("re-acquisition by the same run must return the existing lease, not a new one")
	}
	count, _ = m.GetHostLeaseCount("host-1")
	if count != 2 {
		t.Fatalf("idempotent re-acquire should not grow the lease count, got %d", count)
	}

	released, err := m.ReleaseSourceHostLease("job-1", "host-1")
	if err != nil || !released {
		t.Fatalf("release job-1: %v, %v", released, err)
	}
	count, _ = m.GetHostLeaseCount("host-1")
	if count != 1 {
		t.Fatalf("expected 1 remaining lease, got %d", count)
	}

	released, err = m.ReleaseSourceHostLease("job-2", "host-1")
	if err != nil || !released {
		t.Fatalf("release job-2: %v, %v", released, err)
	}
	count, _ = m.GetHostLeaseCount("host-1")
	if count != 0 {
		t.Fatalf("expected 0 remaining leases, got %d", count)
	}

	// A DSCP value must be reusable once freed.
	lease3, err := m.AcquireSourceHostLease("job-3", "host-1", "router-1", coremodel.JobQuick)
	if err != nil {
		t.Fatalf("acquire 3: %v", err)
	}
	if lease3.DSCP == nil {
		t.Fatal("expected a DSCP value")
	}
}

func TestReleaseNonexistentLeaseIsNoop(t *testing.T) {
	m := newManager(t)
	released, err := m.ReleaseSourceHostLease("job-1", "host-1")
	if err != nil || released {
		t.Fatalf("ReleaseSourceHostLease(nonexistent) = %v, %v", released, err)
	}
}

func TestNeighborLeaseReferenceCounting(t *testing.T) {
	m := newManager(t)

	lease1, err := m.AcquireNeighborLease("job-1", "neighbor-1")
	if err != nil || lease1 == nil {
		t.Fatalf("acquire 1: %v, %v", lease1, err)
	}
	_, err = m.AcquireNeighborLease("job-2", "neighbor-1")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	count, err := m.GetNeighborLeaseCount("neighbor-1")
	if err != nil || count != 2 {
		t.Fatalf("GetNeighborLeaseCount = %d, %v", count, err)
	}

	released, err := m.ReleaseNeighborLease("job-1", "neighbor-1")
	if err != nil || !released {
		t.Fatalf("release job-1: %v, %v", released, err)
	}
	count, _ = m.GetNeighborLeaseCount("neighbor-1")
	if count != 1 {
		t.Fatalf("expected 1 remaining neighbor lease, got %d", count)
	}
}

func TestRouterLockOwnershipEnforced(t *testing.T) {
	m := newManager(t)

	ok, err := m.AcquireRouterLock("router-1", "job-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: %v, %v", ok, err)
	}

	// A non-owner release must be refused and must not actually unlock.
	if m.ReleaseRouterLock("router-1", "job-2") {
		t.Fatal("non-owner release should return false")
	}

	ok, err = m.AcquireRouterLock("router-1", "job-2", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("router-1 should still be held by job-1")
	}

	if !m.ReleaseRouterLock("router-1", "job-1") {
		t.Fatal("owner release should succeed")
	}
}

// TestAcquireAllRouterLocksAtomic covers P4/P5/S6: all-or-nothing
// acquisition, rollback in reverse order on failure, and freedom from
// deadlock between two overlapping concurrent callers.
func TestAcquireAllRouterLocksAtomic(t *testing.T) {
	m := newManager(t)

	routers := []string{"router-3", "router-1", "router-2"}
	ok, err := m.AcquireAllRouterLocksAtomic(routers, "job-1", 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire all: %v, %v", ok, err)
	}
	for _, r := range routers {
		if !m.ReleaseRouterLock(r, "job-1") {
			t.Fatalf("release %s: expected success", r)
		}
	}
}

func TestAcquireAllRouterLocksAtomicRollsBackOnPartialFailure(t *testing.T) {
	m := newManager(t)

	// job-2 holds router-3 up front, so job-1's attempt to acquire
	// {router-1, router-2, router-3} must fail at router-3 (last in sorted
	// order) and roll back router-1 and router-2 before returning.
	ok, err := m.AcquireRouterLock("router-3", "job-2", time.Second)
	if err != nil || !ok {
		t.Fatalf("job-2 acquire router-3: %v, %v", ok, err)
	}

	ok, err = m.AcquireAllRouterLocksAtomic([]string{"router-1", "router-2", "router-3"}, "job-1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire all: %v", err)
	}
	if ok {
		t.Fatal("expected atomic acquisition to fail")
	}

	// router-1 must now be free for another caller.
	ok, err = m.AcquireRouterLock("router-1", "job-3", time.Second)
	if err != nil || !ok {
		t.Fatalf("router-1 should be free after rollback: %v, %v", ok, err)
	}
	m.ReleaseRouterLock("router-1", "job-3")
	m.ReleaseRouterLock("router-3", "job-2")
}

func TestAllRouterLocksScopedReleasesOnPanic(t *testing.T) {
	m := newManager(t)
	routers := []string{"router-1", "router-2"}

	func() {
		defer func() { recover() }()
		_ = m.AllRouterLocks(routers, "job-1", time.Second, func() error {
			panic("boom")
		})
	}()

	for _, r := range routers {
		ok, err := m.AcquireRouterLock(r, "job-2", 200*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("%s should be free after panic unwind: %v, %v", r, ok, err)
		}
		m.ReleaseRouterLock(r, "job-2")
	}
}

// TestWaitForRouterWakesOnDetailedJobRelease covers S2: a quick job's
// wait_for_router wakes as soon as a detailed job's hold on that router is
// released, without polling.
func TestWaitForRouterWakesOnDetailedJobRelease(t *testing.T) {
	m := newManager(t)

	ok, err := m.AcquireAllRouterLocksAtomic([]string{"router-1", "router-2"}, "detailed-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("detailed job acquire: %v, %v", ok, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var freed bool
	var waitErr error
	go func() {
		defer wg.Done()
		freed, waitErr = m.WaitForRouter("router-2", 2*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	m.ReleaseRouterLock("router-1", "detailed-1")
	m.ReleaseRouterLock("router-2", "detailed-1")
	wg.Wait()

	if waitErr != nil {
		t.Fatalf("WaitForRouter error: %v", waitErr)
	}
	if !freed {
		t.Fatal("WaitForRouter should report the router became free")
	}
}

// TestConcurrentHostRegistration covers the Python original's
// threading-based concurrency test: many goroutines racing to register
// distinct hosts must all succeed without corrupting the registry.
func TestConcurrentHostRegistration(t *testing.T) {
	m := newManager(t)

	const n = 10
	var wg sync.WaitGroup
	results := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := m.CheckAndRegisterHost(
				hostName(i), ipFor(i), "router-1", macFor(i))
			results[i] = ok
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil || !results[i] {
			t.Fatalf("host %d: ok=%v err=%v", i, results[i], errs[i])
		}
	}
	hosts, err := m.ListAllHosts()
	if err != nil || len(hosts) != n {
		t.Fatalf("ListAllHosts: %d hosts, err=%v", len(hosts), err)
	}
}

func hostName(i int) string { return fmt.Sprintf("host-%d", i) }
func ipFor(i int) string    { return fmt.Sprintf("10.0.0.%d/24", i) }
func macFor(i int) string   { return fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i) }
