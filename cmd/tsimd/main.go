// Command tsimd is the job scheduler and shared-resource coordinator CLI
// driver of spec.md §6: `tsimd serve` runs the leader-elected scheduler
// loop; the other subcommands are an admin driver operating directly on
// the same RAM-backed state files the daemon uses (the HTTP/WSGI front-end
// itself is an out-of-scope external collaborator per §1).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/queue"
	"github.com/ksparavec/traceroute-simulator-sub003/internal/registry"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

// exitCodeFor maps a returned error to one of spec.md §6's exit codes by
// inspecting the structured error kinds the registry and queue packages
// define, falling back to invalid-args for flag/argument errors and
// generic failure otherwise.
func exitCodeFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return exitTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, errInterrupted) {
		return exitInterrupted
	}
	if kind, ok := registry.KindOf(err); ok && kind == registry.KindLockTimeout {
		return exitTimeout
	}
	if kind, ok := queue.KindOf(err); ok && kind == queue.KindLockTimeout {
		return exitTimeout
	}
	if errInvalidArgs(err) {
		return exitInvalidArgs
	}
	return exitFailure
}
