// Package testrunner defines the narrow, consumed "Test runner"
// collaborator interface of spec.md §6: the core's Job Executor is opaque
// to whatever actually generates and sends test traffic, reads packet
// counters, or manipulates iptables rules. Production code wires a concrete
// implementation in at cmd/tsimd; this package holds the contract plus
// ShellRunner, the default script-based implementation.
package testrunner

import "context"

// Result is the terminal outcome of one RunTest invocation.
type Result struct {
	Success bool
	Message string
	Details map[string]interface{}
}

// Runner is the abstract capability the executor depends on. Every method
// takes a context so RunTest's cancellation token (§8 P9 cooperative
// cancellation) composes with Go's standard cancellation idiom instead of
// a bespoke token type.
type Runner interface {
	// CreateHost performs the physical creation of a host namespace. The
	// executor calls it for a source host after
	// registry.Manager.CheckAndRegisterHost reports a fresh registration
	// (§4.F step 2), and for a detailed job's destination hosts, which are
	// not registered.
	CreateHost(ctx context.Context, name, ip, router, mac string) error

	// DeleteHost tears down a host namespace. The executor calls it for a
	// source host once its lease reference count reaches zero (§4.B.2), and
	// for a detailed job's destination hosts when that job ends.
	DeleteHost(ctx context.Context, name string) error

	// InstallRules installs DSCP-scoped iptables rules for a quick job in a
	// non-destructive mode that preserves rules belonging to other
	// concurrent quick jobs on the same router (§4.F quick path step 3).
	InstallRules(ctx context.Context, router string, dscp int) error

	// RemoveRules undoes InstallRules for the given (router, dscp) pair.
	RemoveRules(ctx context.Context, router string, dscp int) error

	// ReadCounters reads baseline or post-test packet counters from router.
	ReadCounters(ctx context.Context, router string) (map[string]int64, error)

	// RunTest sends the actual test traffic and blocks until it completes,
	// fails, or ctx is cancelled. dscp is non-nil only for quick jobs.
	RunTest(ctx context.Context, job Job, dscp *int) (Result, error)
}

// Job is the subset of a coremodel.Job the test runner needs -- kept
// separate from coremodel.Job itself so this package's interface contract
// does not couple to the internal job lifecycle fields (Status, Position)
// that are none of the runner's concern.
type Job struct {
	RunID  string
	Params map[string]interface{}
}
