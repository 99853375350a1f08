package registry

import (
	"github.com/ksparavec/traceroute-simulator-sub003/internal/coremodel"
)

// CheckAndRegisterHost performs the TOCTOU-free atomic check-and-register of
// §4.B.1: under the host_registry lock, it scans for a collision on
// host_name, primary_ip or mac_address and, finding none, inserts and
// persists the entry in the same critical section. No caller can observe a
// partial write because the save path is temp-then-rename.
func (m *Manager) CheckAndRegisterHost(hostName, primaryIP, connectedTo, macAddress string) (bool, error) {
	ok, err := m.locks.Acquire(lockHostRegistry, m.cfg.LockTimeouts.HostRegistry)
	if err != nil {
		return false, newError(KindLockTimeout, err, "acquiring host_registry lock")
	}
	if !ok {
		return false, newError(KindLockTimeout, nil, "acquiring host_registry lock")
	}
	defer m.locks.Release(lockHostRegistry)

	reg, err := m.loadHosts()
	if err != nil {
		return false, err
	}

	for _, h := range reg.Hosts {
		if h.HostName == hostName || h.PrimaryIP == primaryIP || h.MACAddress == macAddress {
			return false, nil
		}
	}

	reg.Hosts[hostName] = coremodel.HostRegistryEntry{
		HostName:    hostName,
		PrimaryIP:   primaryIP,
		MACAddress:  macAddress,
		ConnectedTo: connectedTo,
		CreatedAt:   m.clock.Now(),
	}
	if err := m.saveHosts(reg); err != nil {
		return false, err
	}
	logf.Infof("registered host %q (%s) on %s", hostName, primaryIP, connectedTo)
	return true, nil
}

// UnregisterHost deletes a host registry entry. The caller must have already
// confirmed the lease count is zero and performed physical teardown -- the
// Registry Manager does not know about, or care about, the external host
// namespace itself (§4.B.2).
func (m *Manager) UnregisterHost(hostName string) (bool, error) {
	ok, err := m.locks.Acquire(lockHostRegistry, m.cfg.LockTimeouts.HostRegistry)
	if err != nil {
		return false, newError(KindLockTimeout, err, "acquiring host_registry lock")
	}
	if !ok {
		return false, newError(KindLockTimeout, nil, "acquiring host_registry lock")
	}
	defer m.locks.Release(lockHostRegistry)

	reg, err := m.loadHosts()
	if err != nil {
		return false, err
	}
	if _, exists := reg.Hosts[hostName]; !exists {
		return false, nil
	}
	delete(reg.Hosts, hostName)
	if err := m.saveHosts(reg); err != nil {
		return false, err
	}
	logf.Infof("unregistered host %q", hostName)
	return true, nil
}

// GetHostInfo returns the registry entry for hostName, or nil if absent.
func (m *Manager) GetHostInfo(hostName string) (*coremodel.HostRegistryEntry, error) {
	ok, err := m.locks.Acquire(lockHostRegistry, m.cfg.LockTimeouts.HostRegistry)
	if err != nil {
		return nil, newError(KindLockTimeout, err, "acquiring host_registry lock")
	}
	if !ok {
		return nil, newError(KindLockTimeout, nil, "acquiring host_registry lock")
	}
	defer m.locks.Release(lockHostRegistry)

	reg, err := m.loadHosts()
	if err != nil {
		return nil, err
	}
	entry, exists := reg.Hosts[hostName]
	if !exists {
		return nil, nil
	}
	return &entry, nil
}

// ListAllHosts returns every currently-registered host, keyed by host name.
func (m *Manager) ListAllHosts() (map[string]coremodel.HostRegistryEntry, error) {
	ok, err := m.locks.Acquire(lockHostRegistry, m.cfg.LockTimeouts.HostRegistry)
	if err != nil {
		return nil, newError(KindLockTimeout, err, "acquiring host_registry lock")
	}
	if !ok {
		return nil, newError(KindLockTimeout, nil, "acquiring host_registry lock")
	}
	defer m.locks.Release(lockHostRegistry)

	reg, err := m.loadHosts()
	if err != nil {
		return nil, err
	}
	out := make(map[string]coremodel.HostRegistryEntry, len(reg.Hosts))
	for k, v := range reg.Hosts {
		out[k] = v
	}
	return out, nil
}
