package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netcontrol/internal/device"
	"netcontrol/internal/event"
	"netcontrol/internal/mastership"
	"netcontrol/internal/netcfg"
	"netcontrol/internal/provider"
	"netcontrol/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// callLog records calls across fakes so tests can check ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

func (l *callLog) reset() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

// matching returns the recorded calls with one of the given prefixes.
func (l *callLog) matching(prefixes ...string) []string {
	var out []string
	for _, c := range l.snapshot() {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

type fakeMastership struct {
	local mastership.NodeID
	log   *callLog

	mu        sync.Mutex
	grant     device.Role
	roles     map[device.ID]device.Role
	terms     map[device.ID]mastership.Term
	listeners []mastership.Listener
}

func newFakeMastership(local mastership.NodeID, log *callLog) *fakeMastership {
	return &fakeMastership{
		local: local,
		log:   log,
		grant: device.RoleMaster,
		roles: make(map[device.ID]device.Role),
		terms: make(map[device.ID]mastership.Term),
	}
}

func (f *fakeMastership) LocalNode() mastership.NodeID { return f.local }

// RequestRoleFor grants the configured role and, like the real backends,
// notifies listeners when the assignment changed.
func (f *fakeMastership) RequestRoleFor(_ context.Context, id device.ID) (device.Role, error) {
	f.log.add("request:%s", id)
	f.mu.Lock()
	role := f.grant
	prev, had := f.roles[id]
	f.roles[id] = role
	var info mastership.RoleInfo
	if role == device.RoleMaster {
		f.terms[id] = mastership.Term{Master: f.local, Number: f.terms[id].Number + 1}
		info.Master = f.local
	} else {
		if m := f.terms[id].Master; m != f.local {
			info.Master = m
		}
		info.Backups = []mastership.NodeID{f.local}
	}
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	if had && prev == role {
		return role, nil
	}
	ev := mastership.Event{Type: mastership.MasterChanged, Device: id, Info: info}
	for _, l := range listeners {
		l(ev)
	}
	return role, nil
}

func (f *fakeMastership) RelinquishMastership(_ context.Context, id device.ID) error {
	f.log.add("relinquish:%s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[id] = device.RoleNone
	if t, ok := f.terms[id]; ok && t.Master == f.local {
		delete(f.terms, id)
	}
	return nil
}

func (f *fakeMastership) LocalRole(id device.ID) device.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[id]; ok {
		return r
	}
	return device.RoleNone
}

func (f *fakeMastership) IsLocalMaster(id device.ID) bool {
	return f.LocalRole(id) == device.RoleMaster
}

func (f *fakeMastership) Term(id device.ID) (mastership.Term, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.terms[id]
	return t, ok
}

func (f *fakeMastership) AddListener(fn mastership.Listener) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeMastership) setGrant(r device.Role) {
	f.mu.Lock()
	f.grant = r
	f.mu.Unlock()
}

// setRole changes the local role and term as if another instance had
// changed the assignment, then notifies listeners.
func (f *fakeMastership) setRole(id device.ID, role device.Role, master mastership.NodeID, backups ...mastership.NodeID) {
	f.mu.Lock()
	f.roles[id] = role
	f.terms[id] = mastership.Term{Master: master, Number: f.terms[id].Number + 1}
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	ev := mastership.Event{Type: mastership.MasterChanged, Device: id, Info: mastership.RoleInfo{Master: master, Backups: backups}}
	for _, l := range listeners {
		l(ev)
	}
}

type fakeProvider struct {
	id     device.ProviderID
	scheme string
	log    *callLog

	mu          sync.Mutex
	unreachable map[device.ID]bool
	broken      map[device.ID]bool
	roleErr     error
}

func newFakeProvider(id device.ProviderID, scheme string, log *callLog) *fakeProvider {
	return &fakeProvider{id: id, scheme: scheme, log: log,
		unreachable: make(map[device.ID]bool), broken: make(map[device.ID]bool)}
}

func (p *fakeProvider) ID() device.ProviderID { return p.id }
func (p *fakeProvider) Scheme() string        { return p.scheme }

func (p *fakeProvider) IsReachable(id device.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broken[id] {
		panic("adapter state corrupted for " + string(id))
	}
	return !p.unreachable[id]
}

// breakDevice makes every reachability check for id panic.
func (p *fakeProvider) breakDevice(id device.ID) {
	p.mu.Lock()
	p.broken[id] = true
	p.mu.Unlock()
}

func (p *fakeProvider) setReachable(id device.ID, ok bool) {
	p.mu.Lock()
	p.unreachable[id] = !ok
	p.mu.Unlock()
}

func (p *fakeProvider) RoleChanged(id device.ID, role device.Role) error {
	p.log.add("role:%s:%s", id, role)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roleErr
}

func (p *fakeProvider) TriggerProbe(id device.ID) {
	p.log.add("probe:%s", id)
}

func (p *fakeProvider) ChangePortState(_ context.Context, id device.ID, port device.PortNumber, enable bool) error {
	p.log.add("port:%s:%d:%v", id, port, enable)
	return nil
}

// recordingStore logs offline marks into the shared call log.
type recordingStore struct {
	store.Store
	log *callLog
}

func (s *recordingStore) MarkOffline(id device.ID) (*device.Event, error) {
	s.log.add("offline:%s", id)
	return s.Store.MarkOffline(id)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []device.Event
}

func (r *eventRecorder) add(ev device.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *eventRecorder) types() []device.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *eventRecorder) last(t device.EventType) (device.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return device.Event{}, false
}

const (
	localNode  mastership.NodeID = "node-a"
	providerID device.ProviderID = "of-provider"
	devA       device.ID         = "of:0000000000000001"
	devB       device.ID         = "of:0000000000000002"
)

type harness struct {
	m      *Manager
	st     *store.BoltStore
	ms     *fakeMastership
	prov   *fakeProvider
	svc    provider.Service
	cfg    *netcfg.Registry
	fan    *event.Fanout
	events *eventRecorder
	log    *callLog

	denyOffline atomic.Int32
}

func newHarness(t *testing.T, audit time.Duration) *harness {
	t.Helper()
	h := &harness{log: &callLog{}, events: &eventRecorder{}}
	h.ms = newFakeMastership(localNode, h.log)

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "devices.db"),
		store.WithMasterCheck(func(id device.ID) bool {
			if h.denyOffline.Load() > 0 {
				h.denyOffline.Add(-1)
				return false
			}
			return h.ms.IsLocalMaster(id)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h.st = st

	h.fan = event.NewFanout(testLogger(), 256)
	h.fan.OnAll(h.events.add)
	h.fan.Start(context.Background())
	t.Cleanup(h.fan.Stop)

	h.cfg = netcfg.NewRegistry(testLogger())
	h.m = New(&recordingStore{Store: st, log: h.log}, h.ms, h.cfg, h.fan, Config{AuditInterval: audit}, testLogger())
	h.m.Start()
	t.Cleanup(h.m.Stop)

	h.prov = newFakeProvider(providerID, "of", h.log)
	h.svc, err = h.m.Register(h.prov)
	require.NoError(t, err)
	return h
}

// settle waits for background tasks and event delivery.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	h.m.pending.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.fan.Sync(ctx))
}

func switchDesc() *device.Description {
	return &device.Description{Type: device.TypeSwitch, Manufacturer: "acme", SWVersion: "1.0"}
}

func roadmDesc() *device.Description {
	return &device.Description{Type: device.TypeROADM, Manufacturer: "lumen"}
}

// connect brings a device up and waits until its role is applied.
func (h *harness) connect(t *testing.T, id device.ID, desc *device.Description) {
	t.Helper()
	h.svc.DeviceConnected(id, desc)
	h.settle(t)
}
