package manager

import (
	"slices"

	"netcontrol/internal/device"
	"netcontrol/internal/netcfg"
	"netcontrol/internal/overlay"
)

// RegisterPortConfigOperator appends op to the port overlay chain and
// re-applies the chain to every port of every device mastered here. kinds
// are the config kinds whose changes should re-run op.
func (m *Manager) RegisterPortConfigOperator(op overlay.PortOperator, kinds ...overlay.Kind) {
	if !m.pipeline.Register(op, kinds...) {
		m.logger.Warn("port config operator already registered")
		return
	}
	m.reapplyAll()
}

// UnregisterPortConfigOperator removes op from the chain. Stored ports keep
// what op contributed until they are next rewritten.
func (m *Manager) UnregisterPortConfigOperator(op overlay.PortOperator) {
	if !m.pipeline.Unregister(op) {
		m.logger.Warn("port config operator was not registered")
	}
}

func (m *Manager) reapplyAll() {
	devices, err := m.store.GetDevices()
	if err != nil {
		m.logger.Error("reapply overlays: list devices", "err", err)
		return
	}
	for _, dev := range devices {
		if !m.mastership.IsLocalMaster(dev.ID) {
			continue
		}
		ports, err := m.store.GetPorts(dev.ID)
		if err != nil {
			m.logger.Error("reapply overlays: list ports", "device", dev.ID, "err", err)
			continue
		}
		for _, p := range ports {
			m.reapplyPort(device.ConnectPoint{Device: p.DeviceID, Port: p.Number}, p, nil)
		}
	}
}

// reapplyPort re-runs the pipeline over a stored port. cp is the connect
// point the overlays are keyed by, which differs from p's number when an
// optical config renumbered the port.
func (m *Manager) reapplyPort(cp device.ConnectPoint, p *device.Port, remove []string) {
	desc := p.Description()
	combined := m.pipeline.Recombine(cp, desc, remove)
	if combined == desc {
		return
	}
	ev, err := m.store.UpdatePortStatus(p.ProviderID, p.DeviceID, combined)
	if err != nil {
		m.logger.Error("reapply overlays: update port", "device", p.DeviceID, "port", p.Number, "err", err)
		return
	}
	m.postPtr(ev)
}

func (m *Manager) onConfigEvent(ev netcfg.Event) {
	m.submit(func() { m.handleConfigEvent(ev) })
}

func (m *Manager) handleConfigEvent(ev netcfg.Event) {
	if ev.Kind == overlay.KindBasic {
		m.handleDeviceConfig(ev)
		return
	}
	if !m.pipeline.Watches(ev.Kind) {
		return
	}
	cp := ev.Subject
	if !m.mastership.IsLocalMaster(cp.Device) {
		return
	}
	p := m.configuredPort(cp, ev)
	if p == nil {
		return
	}
	var remove []string
	switch ev.Kind {
	case overlay.KindAnnotations:
		prev, _ := ev.Prev.(*overlay.PortAnnotationConfig)
		cur, _ := ev.Config.(*overlay.PortAnnotationConfig)
		remove = overlay.DroppedKeys(portAnnotations(prev), portAnnotations(cur))
		remove = stillSet(remove, m.netcfg.OpticalPort(cp).Annotations())
	case overlay.KindOptical:
		prev, _ := ev.Prev.(*overlay.OpticalPortConfig)
		cur, _ := ev.Config.(*overlay.OpticalPortConfig)
		remove = overlay.DroppedKeys(prev.Annotations(), cur.Annotations())
		remove = stillSet(remove, portAnnotations(m.netcfg.PortAnnotations(cp)))
	}
	m.reapplyPort(cp, p, remove)
}

// configuredPort returns the stored port a config keyed by cp applies to.
// An optical config may have renumbered the port, so the current and the
// previous configured numbers are tried after cp's own.
func (m *Manager) configuredPort(cp device.ConnectPoint, ev netcfg.Event) *device.Port {
	nums := []device.PortNumber{cp.Port}
	if cur := m.netcfg.OpticalPort(cp); cur != nil && cur.Number != nil {
		nums = append(nums, *cur.Number)
	}
	if prev, _ := ev.Prev.(*overlay.OpticalPortConfig); prev != nil && prev.Number != nil {
		nums = append(nums, *prev.Number)
	}
	for _, n := range nums {
		if p, err := m.store.GetPort(cp.Device, n); err == nil {
			return p
		}
	}
	return nil
}

// stillSet drops from keys the ones another overlay still sets.
func stillSet(keys []string, set device.Annotations) []string {
	return slices.DeleteFunc(keys, func(k string) bool {
		_, ok := set[k]
		return ok
	})
}

func portAnnotations(c *overlay.PortAnnotationConfig) device.Annotations {
	if c == nil {
		return nil
	}
	return c.Annotations
}

func (m *Manager) handleDeviceConfig(ev netcfg.Event) {
	id := ev.Subject.Device
	cfg, _ := ev.Config.(*overlay.BasicDeviceConfig)
	if ev.Type != netcfg.ConfigRemoved && !overlay.IsAllowed(cfg) {
		if _, err := m.store.GetDevice(id); err == nil {
			m.logger.Info("device no longer allowed, removing", "device", id)
			if err := m.RemoveDevice(id); err != nil {
				m.logger.Error("remove disallowed device", "device", id, "err", err)
			}
			m.relinquishAsync(id)
		}
		return
	}
	if !m.mastership.IsLocalMaster(id) {
		return
	}
	dev, err := m.store.GetDevice(id)
	if err != nil {
		return
	}
	prev, _ := ev.Prev.(*overlay.BasicDeviceConfig)
	desc := dev.Description()
	combined := overlay.CombineDevice(cfg, desc, overlay.DroppedKeys(prev.Annotations(), cfg.Annotations())...)
	if combined == desc {
		return
	}
	out, err := m.store.CreateOrUpdateDevice(dev.ProviderID, id, combined)
	if err != nil {
		m.logger.Error("apply device config", "device", id, "err", err)
		return
	}
	m.postPtr(out)
}
