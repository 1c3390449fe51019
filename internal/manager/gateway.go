package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"netcontrol/internal/device"
	"netcontrol/internal/overlay"
	"netcontrol/internal/provider"
	"netcontrol/internal/store"
)

// gateway is the provider.Service handed to one registered adapter.
type gateway struct {
	m        *Manager
	provider provider.Provider
	scheme   string
	logger   *slog.Logger
	valid    atomic.Bool
}

var _ provider.Service = (*gateway)(nil)
var _ provider.Registry = (*Manager)(nil)

// Register admits a provider. Devices whose id scheme matches the
// provider's are routed to it.
func (m *Manager) Register(p provider.Provider) (provider.Service, error) {
	if p == nil {
		return nil, fmt.Errorf("register provider: nil provider")
	}
	if p.Scheme() == "" {
		return nil, fmt.Errorf("register provider %s: empty scheme", p.ID())
	}
	g := &gateway{
		m:        m,
		provider: p,
		scheme:   p.Scheme(),
		logger:   m.logger.With("provider", p.ID()),
	}
	g.valid.Store(true)
	if err := m.rt.add(g); err != nil {
		return nil, err
	}
	m.logger.Info("provider registered", "provider", p.ID(), "scheme", g.scheme)
	return g, nil
}

// Unregister removes a provider. Its gateway ignores further calls.
func (m *Manager) Unregister(p provider.Provider) {
	if p == nil {
		return
	}
	if g := m.rt.remove(p.ID()); g != nil {
		g.valid.Store(false)
		m.logger.Info("provider unregistered", "provider", p.ID())
	}
}

// providerFor routes a device to its provider by id scheme, falling back
// to the provider recorded in the store.
func (m *Manager) providerFor(id device.ID) provider.Provider {
	if g := m.rt.byScheme(id.Scheme()); g != nil {
		return g.provider
	}
	dev, err := m.store.GetDevice(id)
	if err != nil {
		return nil
	}
	if g := m.rt.byID(dev.ProviderID); g != nil {
		return g.provider
	}
	return nil
}

func (m *Manager) isReachable(id device.ID) bool {
	p := m.providerFor(id)
	return p != nil && p.IsReachable(id)
}

func (g *gateway) check(op string, id device.ID) bool {
	if g.valid.Load() {
		return true
	}
	g.logger.Warn("provider no longer registered, ignoring call", "op", op, "device", id)
	return false
}

func (g *gateway) DeviceConnected(id device.ID, desc *device.Description) {
	if id == "" || desc == nil {
		g.logger.Debug("device connected with missing arguments, ignored")
		return
	}
	m := g.m
	if !g.check("device_connected", id) {
		m.relinquishAsync(id)
		return
	}
	cfg := m.netcfg.BasicDevice(id)
	if !overlay.IsAllowed(cfg) {
		g.logger.Warn("device is not allowed, ignoring connection", "device", id)
		return
	}
	desc = overlay.CombineDevice(cfg, desc)

	g.logger.Info("device connected", "device", id)
	m.rt.setStatus(id, true, m.now())
	// New adapter session: nothing has been asserted on it yet.
	m.rt.clearApplied(id)
	m.async(func(ctx context.Context) {
		role, err := m.mastership.RequestRoleFor(ctx, id)
		if err != nil {
			g.logger.Warn("role request failed", "device", id, "err", err)
			return
		}
		g.logger.Info("local role", "device", id, "role", role)
		if !m.applyRole(id, role, true) {
			m.relinquish(ctx, id)
		}
	})

	ev, err := m.store.CreateOrUpdateDevice(g.provider.ID(), id, desc)
	if err != nil {
		g.logger.Error("store device", "device", id, "err", err)
		return
	}
	m.postPtr(ev)
}

func (g *gateway) DeviceDisconnected(id device.ID) {
	if id == "" {
		g.logger.Debug("device disconnected with empty id, ignored")
		return
	}
	m := g.m
	if !g.check("device_disconnected", id) {
		m.relinquishAsync(id)
		return
	}
	g.logger.Info("device disconnected", "device", id)
	m.rt.setStatus(id, false, m.now())
	m.rt.clearApplied(id)
	g.disablePorts(id)

	if m.mastership.IsLocalMaster(id) {
		ev, err := m.store.MarkOffline(id)
		switch {
		case errors.Is(err, store.ErrNotMaster):
			g.logger.Warn("lost mastership while marking device offline, retrying", "device", id)
			m.async(func(ctx context.Context) {
				defer m.relinquish(ctx, id)
				m.retryMarkOffline(ctx, id)
			})
			return
		case err != nil:
			g.logger.Error("mark device offline", "device", id, "err", err)
		default:
			m.postPtr(ev)
		}
	}
	m.relinquishAsync(id)
}

func (g *gateway) disablePorts(id device.ID) {
	m := g.m
	ports, err := m.store.GetPorts(id)
	if err != nil {
		g.logger.Error("list ports", "device", id, "err", err)
		return
	}
	descs := make([]*device.PortDescription, 0, len(ports))
	for _, p := range ports {
		if p.ProviderID != g.provider.ID() {
			continue
		}
		d := p.Description()
		d.Enabled = false
		descs = append(descs, d)
	}
	if len(descs) == 0 {
		return
	}
	events, err := m.store.UpdatePorts(g.provider.ID(), id, descs)
	if err != nil {
		g.logger.Error("disable ports", "device", id, "err", err)
		return
	}
	for _, ev := range events {
		m.post(ev)
	}
}

// retryMarkOffline re-requests the role and, if this instance is master
// under the resulting term, retries the offline mark once.
func (m *Manager) retryMarkOffline(ctx context.Context, id device.ID) {
	role, err := m.mastership.RequestRoleFor(ctx, id)
	if err != nil {
		m.logger.Warn("role request for offline retry failed", "device", id, "err", err)
		return
	}
	term, ok := m.mastership.Term(id)
	if role != device.RoleMaster || !ok || term.Master != m.local {
		m.logger.Info("not master after re-request, offline mark skipped", "device", id, "role", role)
		return
	}
	ev, err := m.store.MarkOffline(id)
	if err != nil {
		m.logger.Warn("offline mark failed again", "device", id, "err", err)
		return
	}
	m.postPtr(ev)
}

func (g *gateway) UpdatePorts(id device.ID, ports []*device.PortDescription) {
	if id == "" || ports == nil {
		g.logger.Debug("port update with missing arguments, ignored")
		return
	}
	if !g.check("update_ports", id) {
		return
	}
	m := g.m
	if !m.mastership.IsLocalMaster(id) {
		g.logger.Log(context.Background(), levelTrace, "not master, port update ignored", "device", id)
		return
	}
	descs := make([]*device.PortDescription, 0, len(ports))
	for _, d := range ports {
		if d == nil {
			continue
		}
		descs = append(descs, m.pipeline.Combine(device.ConnectPoint{Device: id, Port: d.Number}, d))
	}
	events, err := m.store.UpdatePorts(g.provider.ID(), id, descs)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Debug("port update for unknown device", "device", id)
			return
		}
		g.logger.Error("update ports", "device", id, "err", err)
		return
	}
	for _, ev := range events {
		m.post(ev)
	}
}

func (g *gateway) PortStatusChanged(id device.ID, desc *device.PortDescription) {
	if id == "" || desc == nil {
		g.logger.Debug("port status with missing arguments, ignored")
		return
	}
	if !g.check("port_status_changed", id) {
		return
	}
	m := g.m
	if !m.mastership.IsLocalMaster(id) {
		g.logger.Log(context.Background(), levelTrace, "not master, port status ignored", "device", id, "port", desc.Number)
		return
	}
	dev, err := m.store.GetDevice(id)
	if err != nil {
		g.logger.Warn("port status for unknown device", "device", id, "port", desc.Number)
		return
	}
	if dev.Type.IsOptical() {
		// Optical adapters only report the enabled state reliably.
		if stored, err := m.store.GetPort(id, desc.Number); err == nil {
			d := stored.Description()
			d.Enabled = desc.Enabled
			d.Removed = desc.Removed
			desc = d
		}
	}
	desc = m.pipeline.Combine(device.ConnectPoint{Device: id, Port: desc.Number}, desc)
	ev, err := m.store.UpdatePortStatus(g.provider.ID(), id, desc)
	if err != nil {
		g.logger.Error("update port status", "device", id, "port", desc.Number, "err", err)
		return
	}
	m.postPtr(ev)
}

func (g *gateway) DeletePort(id device.ID, desc *device.PortDescription) {
	if id == "" || desc == nil {
		g.logger.Debug("port delete with missing arguments, ignored")
		return
	}
	d := desc.Clone()
	d.Removed = true
	g.PortStatusChanged(id, d)
}

func (g *gateway) UpdatePortStatistics(id device.ID, stats []device.PortStatistics) {
	if id == "" || stats == nil {
		g.logger.Debug("port statistics with missing arguments, ignored")
		return
	}
	if !g.check("update_port_statistics", id) {
		return
	}
	ev, err := g.m.store.UpdatePortStatistics(g.provider.ID(), id, stats)
	if err != nil {
		g.logger.Debug("update port statistics", "device", id, "err", err)
		return
	}
	g.m.postPtr(ev)
}

func (g *gateway) ReceivedRoleReply(id device.ID, requested, response device.Role) {
	if id == "" {
		g.logger.Debug("role reply with empty id, ignored")
		return
	}
	if !g.check("received_role_reply", id) {
		return
	}
	g.m.roleReply(id, requested, response)
}
