// Package hostbackend defines the Backend interface the Registry Manager's
// callers use to check host namespace liveness outside the core's own
// registry bookkeeping, plus one concrete, swappable implementation backed
// by real Linux network namespaces. The core never imports this package's
// netnsbackend.go directly -- per spec.md §6 the consumed capability stays
// behind the Backend interface, and this default implementation is the
// Go-native analogue of the original's
// src/simulators/network_status/{cache,collector,manager}.py family.
package hostbackend

import "context"

// Status is a point-in-time liveness snapshot for one host namespace.
type Status struct {
	Exists bool
	// IfaceUp reports whether the namespace's primary interface is up, when
	// Exists is true.
	IfaceUp bool
}

// Backend is the abstract capability consumed by callers that need to
// cross-check the registry's bookkeeping against the real namespace state
// (e.g. an admin reconciliation job). It is not on the Job Executor's hot
// path -- that uses testrunner.Runner directly -- so it stays a separate,
// optional interface rather than being folded into testrunner.Runner.
type Backend interface {
	// Status reports whether a host namespace of the given name currently
	// exists on the system.
	Status(ctx context.Context, name string) (Status, error)

	// List returns the names of every host namespace currently present.
	List(ctx context.Context) ([]string, error)
}
