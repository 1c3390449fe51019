// Package manager is the device management core. It reconciles this
// instance's mastership with what provider adapters assert toward devices,
// admits adapter reports into the store through the overlay pipeline, and
// fans the resulting events out to listeners.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"netcontrol/internal/device"
	"netcontrol/internal/event"
	"netcontrol/internal/mastership"
	"netcontrol/internal/netcfg"
	"netcontrol/internal/overlay"
	"netcontrol/internal/store"
)

// DefaultAuditInterval is the mastership audit period used when none is
// configured.
const DefaultAuditInterval = time.Minute

const levelTrace = slog.LevelDebug - 4

// ErrProviderNotFound is returned when no registered provider handles a
// device.
var ErrProviderNotFound = errors.New("no provider for device")

// ConfigSource supplies operator overlays and their change events.
type ConfigSource interface {
	BasicDevice(id device.ID) *overlay.BasicDeviceConfig
	OpticalPort(cp device.ConnectPoint) *overlay.OpticalPortConfig
	PortAnnotations(cp device.ConnectPoint) *overlay.PortAnnotationConfig
	AddListener(fn netcfg.Listener) func()
}

// Config holds manager tuning.
type Config struct {
	// AuditInterval is the delay between the end of one mastership audit
	// and the start of the next.
	AuditInterval time.Duration
	// QueueSize bounds the background task queue.
	QueueSize int
}

// Manager manages the device inventory and device roles.
type Manager struct {
	store      store.Store
	mastership mastership.Service
	netcfg     ConfigSource
	events     *event.Fanout
	pipeline   *overlay.Pipeline
	rt         *Runtime
	logger     *slog.Logger
	local      mastership.NodeID
	audit      time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	work   chan func()
	wg     sync.WaitGroup
	// pending counts queued and running background tasks.
	pending sync.WaitGroup

	// qmu orders submits against Stop's final drain.
	qmu    sync.Mutex
	closed bool

	mu      sync.Mutex
	started bool
	unsubs  []func()
}

// New creates a manager. Nothing runs until Start.
func New(st store.Store, ms mastership.Service, cfgs ConfigSource, events *event.Fanout, cfg Config, logger *slog.Logger) *Manager {
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = DefaultAuditInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	logger = logger.With("component", "manager")
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:      st,
		mastership: ms,
		netcfg:     cfgs,
		events:     events,
		rt:         newRuntime(),
		logger:     logger,
		local:      ms.LocalNode(),
		audit:      cfg.AuditInterval,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		work:       make(chan func(), cfg.QueueSize),
	}
	m.pipeline = overlay.NewPipeline(logger, cfgs.PortAnnotations)
	m.pipeline.Register(overlay.NewOpticalOperator(logger, cfgs.OpticalPort), overlay.KindOptical)
	return m
}

// Events returns the event fanout.
func (m *Manager) Events() *event.Fanout { return m.events }

// Start installs the store delegate and the mastership and config listeners
// and launches the background loop that runs audits and queued tasks.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.store.SetDelegate(m.post)
	m.unsubs = append(m.unsubs,
		m.mastership.AddListener(m.onMastershipEvent),
		m.netcfg.AddListener(m.onConfigEvent),
	)
	m.wg.Add(1)
	go m.run()
	m.logger.Info("device manager started", "node", m.local, "audit_interval", m.audit)
}

// Stop removes the listeners, stops the background loop and waits for
// in-flight tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	m.qmu.Lock()
	m.closed = true
	m.qmu.Unlock()
	m.cancel()
	m.wg.Wait()
drain:
	for {
		select {
		case <-m.work:
			m.pending.Done()
		default:
			break drain
		}
	}
	m.pending.Wait()
	m.store.SetDelegate(nil)
	m.logger.Info("device manager stopped")
}

func (m *Manager) run() {
	defer m.wg.Done()
	timer := time.NewTimer(m.audit)
	defer timer.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case task := <-m.work:
			m.safely("background task", task)
			m.pending.Done()
		case <-timer.C:
			m.safely("mastership audit", m.auditTick)
			timer.Reset(m.audit)
		}
	}
}

func (m *Manager) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(what+" panic", "panic", r)
		}
	}()
	fn()
}

// submit queues fn on the background loop. Tasks run one at a time in
// submission order.
func (m *Manager) submit(fn func()) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.closed || m.ctx.Err() != nil {
		m.logger.Debug("manager stopped, task dropped")
		return
	}
	m.pending.Add(1)
	select {
	case m.work <- fn:
	default:
		m.logger.Warn("background queue full, running task detached")
		go func() {
			defer m.pending.Done()
			m.safely("background task", fn)
		}()
	}
}

// async runs fn on its own goroutine. Used for calls that wait on the
// mastership service so event paths never block on them.
func (m *Manager) async(fn func(ctx context.Context)) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.safely("async task", func() { fn(m.ctx) })
	}()
}

func (m *Manager) post(ev device.Event) {
	m.events.Post(ev)
}

func (m *Manager) postPtr(ev *device.Event) {
	if ev != nil {
		m.events.Post(*ev)
	}
}

// GetDevice returns a device or store.ErrNotFound.
func (m *Manager) GetDevice(id device.ID) (*device.Device, error) {
	return m.store.GetDevice(id)
}

// GetDevices returns all devices, or only those of the given types.
func (m *Manager) GetDevices(types ...device.Type) ([]*device.Device, error) {
	devices, err := m.store.GetDevices()
	if err != nil || len(types) == 0 {
		return devices, err
	}
	return filterTypes(devices, types), nil
}

// GetAvailableDevices is GetDevices restricted to available devices.
func (m *Manager) GetAvailableDevices(types ...device.Type) ([]*device.Device, error) {
	devices, err := m.GetDevices(types...)
	if err != nil {
		return nil, err
	}
	out := devices[:0]
	for _, d := range devices {
		if d.Available {
			out = append(out, d)
		}
	}
	return out, nil
}

func filterTypes(devices []*device.Device, types []device.Type) []*device.Device {
	out := make([]*device.Device, 0, len(devices))
	for _, d := range devices {
		for _, t := range types {
			if d.Type == t {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// GetDeviceCount returns the number of known devices.
func (m *Manager) GetDeviceCount() int {
	devices, err := m.store.GetDevices()
	if err != nil {
		m.logger.Error("list devices", "err", err)
		return 0
	}
	return len(devices)
}

func (m *Manager) GetPorts(id device.ID) ([]*device.Port, error) {
	return m.store.GetPorts(id)
}

func (m *Manager) GetPort(id device.ID, n device.PortNumber) (*device.Port, error) {
	return m.store.GetPort(id, n)
}

func (m *Manager) GetPortStatistics(id device.ID) ([]device.PortStatistics, error) {
	return m.store.GetPortStatistics(id)
}

func (m *Manager) IsAvailable(id device.ID) bool {
	return m.store.IsAvailable(id)
}

// GetRole returns this instance's role for the device.
func (m *Manager) GetRole(id device.ID) device.Role {
	return m.mastership.LocalRole(id)
}

// LocalStatus describes when this instance last saw the device connect or
// disconnect, e.g. "connected 12s ago".
func (m *Manager) LocalStatus(id device.ID) string {
	st, ok := m.rt.status(id)
	if !ok {
		return "No Record"
	}
	state := "disconnected"
	if st.Connected {
		state = "connected"
	}
	return fmt.Sprintf("%s %ds ago", state, int64(m.now().Sub(st.Since)/time.Second))
}

// RemoveDevice administratively removes a device and its ports.
func (m *Manager) RemoveDevice(id device.ID) error {
	if id == "" {
		return fmt.Errorf("remove device: empty id")
	}
	ev, err := m.store.RemoveDevice(id)
	if err != nil {
		return fmt.Errorf("remove device %s: %w", id, err)
	}
	if ev == nil {
		return fmt.Errorf("device %s: %w", id, store.ErrNotFound)
	}
	m.rt.forget(id)
	m.logger.Info("device administratively removed", "device", id)
	m.post(*ev)
	return nil
}

// ChangePortState asks the device's provider to enable or disable a port.
func (m *Manager) ChangePortState(ctx context.Context, id device.ID, port device.PortNumber, enable bool) error {
	p := m.providerFor(id)
	if p == nil {
		return fmt.Errorf("device %s: %w", id, ErrProviderNotFound)
	}
	if err := p.ChangePortState(ctx, id, port, enable); err != nil {
		return fmt.Errorf("change port state %s/%d: %w", id, port, err)
	}
	return nil
}
