package manager

import (
	"context"
	"slices"

	"netcontrol/internal/device"
	"netcontrol/internal/mastership"
)

func hasNoRole(r device.Role) bool {
	return r == device.RoleNone || r == device.RoleUnknown
}

// auditTick checks every known device once. Unreachable devices give up
// their role; reachable devices without one ask for it.
func (m *Manager) auditTick() {
	devices, err := m.store.GetDevices()
	if err != nil {
		m.logger.Error("mastership audit: list devices", "err", err)
		return
	}
	for _, dev := range devices {
		m.safely("mastership audit", func() { m.auditDevice(dev.ID) })
	}
}

func (m *Manager) auditDevice(id device.ID) {
	local := m.mastership.LocalRole(id)
	if !m.isReachable(id) {
		if !hasNoRole(local) {
			if local == device.RoleMaster {
				m.markOffline(id)
			}
			m.relinquishAsync(id)
			return
		}
		if term, ok := m.mastership.Term(id); ok && term.Master == m.local {
			m.markOffline(id)
			m.relinquishAsync(id)
		}
		return
	}
	if hasNoRole(local) {
		m.logger.Info("reachable device has no local role, requesting", "device", id)
		m.reassertRole(id, device.RoleNone)
	}
}

func (m *Manager) markOffline(id device.ID) {
	ev, err := m.store.MarkOffline(id)
	if err != nil {
		m.logger.Debug("mark device offline", "device", id, "err", err)
		return
	}
	m.postPtr(ev)
}

// reassertRole drives the adapter toward next. NONE is resolved by asking
// the mastership service first.
func (m *Manager) reassertRole(id device.ID, next device.Role) {
	switch next {
	case device.RoleMaster:
		if dev, err := m.store.GetDevice(id); err == nil && !dev.Available {
			ev, err := m.store.MarkOnline(id)
			if err != nil {
				m.logger.Warn("mark device online", "device", id, "err", err)
			} else {
				m.postPtr(ev)
			}
		}
		if !m.applyRole(id, device.RoleMaster, true) {
			m.logger.Warn("failed to assert master role, relinquishing", "device", id)
			m.relinquishAsync(id)
		}
	case device.RoleStandby:
		if !m.applyRole(id, device.RoleStandby, true) {
			m.logger.Warn("failed to assert standby role, relinquishing", "device", id)
			m.relinquishAsync(id)
		}
	default:
		m.async(func(ctx context.Context) {
			role, err := m.mastership.RequestRoleFor(ctx, id)
			if err != nil {
				m.logger.Warn("role request failed", "device", id, "err", err)
				return
			}
			term, ok := m.mastership.Term(id)
			if role == device.RoleMaster && ok && term.Master == m.local {
				m.reassertRole(id, device.RoleMaster)
			} else {
				m.reassertRole(id, device.RoleStandby)
			}
		})
	}
}

// applyRole pushes role to the device's adapter and, when probe is set, fires
// one liveness probe per MASTER assertion. Pushing the role already applied
// is a no-op, as is probing twice for the same assertion. Calls for one
// device are serialized. It returns false when no adapter could take the
// role.
func (m *Manager) applyRole(id device.ID, role device.Role, probe bool) bool {
	if hasNoRole(role) {
		return true
	}
	p := m.providerFor(id)
	if p == nil {
		m.logger.Warn("no provider for device, role not applied", "device", id, "role", role)
		return false
	}
	st := m.rt.roleState(id)
	st.push.Lock()
	defer st.push.Unlock()

	st.mu.Lock()
	pushed := st.role == role
	st.mu.Unlock()
	if !pushed {
		if err := p.RoleChanged(id, role); err != nil {
			m.logger.Warn("provider rejected role", "device", id, "role", role, "err", err)
			return false
		}
		m.rt.setApplied(id, role)
	}
	if !probe || role != device.RoleMaster {
		return true
	}
	st.mu.Lock()
	fire := st.role == role && !st.probed
	if fire {
		st.probed = true
	}
	st.mu.Unlock()
	if fire {
		p.TriggerProbe(id)
	}
	return true
}

func (m *Manager) relinquish(ctx context.Context, id device.ID) {
	m.rt.clearApplied(id)
	if err := m.mastership.RelinquishMastership(ctx, id); err != nil {
		m.logger.Warn("relinquish mastership", "device", id, "err", err)
	}
}

func (m *Manager) relinquishAsync(id device.ID) {
	m.async(func(ctx context.Context) { m.relinquish(ctx, id) })
}

// roleReply reconciles an adapter's report of the role it actually holds.
func (m *Manager) roleReply(id device.ID, requested, response device.Role) {
	m.logger.Debug("role reply", "device", id, "requested", requested, "response", response)
	if requested == device.RoleUnknown && response == device.RoleUnknown {
		m.logger.Warn("role reply reports channel failure, relinquishing", "device", id)
		m.relinquishAsync(id)
		return
	}
	if requested != response {
		m.logger.Warn("device did not accept requested role, relinquishing",
			"device", id, "requested", requested, "response", response)
		m.relinquishAsync(id)
		return
	}
	m.rt.setApplied(id, response)
	if local := m.mastership.LocalRole(id); requested != local {
		m.logger.Warn("role reply disagrees with local role, reasserting",
			"device", id, "reply", response, "local", local)
		m.submit(func() { m.reassertRole(id, m.mastership.LocalRole(id)) })
	}
}

func (m *Manager) onMastershipEvent(ev mastership.Event) {
	m.submit(func() { m.handleMastershipEvent(ev) })
}

func (m *Manager) handleMastershipEvent(ev mastership.Event) {
	if ev.Type != mastership.MasterChanged {
		return
	}
	id := ev.Device
	var next device.Role
	switch {
	case ev.Info.Master == m.local:
		if term, ok := m.mastership.Term(id); ok && term.Master == m.local {
			next = device.RoleMaster
		} else {
			next = device.RoleStandby
		}
	case slices.Contains(ev.Info.Backups, m.local):
		next = device.RoleStandby
	default:
		next = device.RoleNone
	}

	if !m.isReachable(id) {
		if next != device.RoleNone {
			m.logger.Warn("device unreachable, giving up new role", "device", id, "role", next)
			m.relinquishAsync(id)
		}
		return
	}
	if _, err := m.store.GetDevice(id); err != nil {
		m.logger.Debug("mastership change for unknown device", "device", id)
		return
	}
	m.reassertRole(id, next)
}
