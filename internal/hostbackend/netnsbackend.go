package hostbackend

import (
	"context"
	"os"

	"github.com/vishvananda/netns"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/logger"
)

var logf = logger.Get("hostbackend")

// netnsDir is where named network namespaces created by `ip netns add`
// live, matching vishvananda/netns.GetFromName's own lookup path.
const netnsDir = "/var/run/netns"

// NetnsBackend is the default Backend, backed by real Linux network
// namespaces via github.com/vishvananda/netns. Opening a namespace handle
// (rather than switching into it with netns.Set) is enough to answer
// existence/liveness queries without perturbing the calling goroutine's
// current namespace, so unlike a namespace-entering caller this backend
// never needs runtime.LockOSThread.
type NetnsBackend struct{}

// NewNetnsBackend constructs the default Backend.
func NewNetnsBackend() *NetnsBackend { return &NetnsBackend{} }

// Status reports whether a named network namespace exists by attempting to
// open a handle to it; IfaceUp is left false since that requires entering
// the namespace, which this read-only status check deliberately avoids.
func (b *NetnsBackend) Status(ctx context.Context, name string) (Status, error) {
	ns, err := netns.GetFromName(name)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}
		return Status{}, err
	}
	defer ns.Close()
	return Status{Exists: true}, nil
}

// List returns the names of every namespace registered under
// /var/run/netns.
func (b *NetnsBackend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(netnsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
