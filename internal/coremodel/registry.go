package coremodel

import "time"

// HostRegistryEntry is a uniquely-named, uniquely-addressed simulated host
// namespace. Uniqueness spans host_name, primary_ip and mac_address (P1).
type HostRegistryEntry struct {
	HostName    string    `json:"host_name"`
	PrimaryIP   string    `json:"primary_ip"`
	MACAddress  string    `json:"mac_address"`
	ConnectedTo string    `json:"connected_to"`
	CreatedAt   time.Time `json:"created_at"`
}

// HostLease records one run's reference on a shared host namespace.
type HostLease struct {
	JobType    JobType   `json:"job_type"`
	RouterName string    `json:"router_name"`
	DSCP       *int      `json:"dscp,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// NeighborLease records one run's reference on a (host, neighbor_ip) pair.
type NeighborLease struct {
	AcquiredAt time.Time `json:"acquired_at"`
}
