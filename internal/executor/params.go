package executor

import (
	"encoding/json"

	"github.com/juju/errors"
)

// SourceHost is one shared, reference-counted host a job originates traffic
// from. Router names the simulated router it is attached to (§3
// HostRegistryEntry.connected_to).
type SourceHost struct {
	HostName   string `json:"host_name"`
	PrimaryIP  string `json:"primary_ip"`
	MACAddress string `json:"mac_address"`
	Router     string `json:"router"`
}

// DestinationHost is an ephemeral, per-run host created and torn down
// within a detailed job's scoped section; it is never registered or leased
// (§4.F.2 step 2, glossary "destination host").
type DestinationHost struct {
	HostName   string `json:"host_name"`
	PrimaryIP  string `json:"primary_ip"`
	MACAddress string `json:"mac_address"`
	Router     string `json:"router"`
}

// QuickParams is the job-type-specific payload of a quick Job's opaque
// Params map (§4.F.1).
type QuickParams struct {
	Routers     []string     `json:"routers"`
	SourceHosts []SourceHost `json:"source_hosts"`
}

// DetailedParams is the job-type-specific payload of a detailed Job's
// opaque Params map (§4.F.2).
type DetailedParams struct {
	Routers          []string          `json:"routers"`
	SourceHosts      []SourceHost      `json:"source_hosts"`
	DestinationHosts []DestinationHost `json:"destination_hosts"`
}

// decodeParams re-marshals the Job's opaque params map into a concrete
// struct. The Queue Service and Scheduler Loop never need to know these
// shapes -- only the Executor, which owns job-type-specific behavior, does
// (Design Note: dynamic dispatch over runtime-selected payload -> narrow
// decode at the point of use rather than a shared schema threaded through
// every layer).
func decodeParams[T any](raw map[string]interface{}) (T, error) {
	var out T
	buf, err := json.Marshal(raw)
	if err != nil {
		return out, errors.Annotate(err, "encoding job params")
	}
	if err := json.Unmarshal(buf, &out); err != nil {
		return out, errors.Annotate(err, "decoding job params")
	}
	return out, nil
}
