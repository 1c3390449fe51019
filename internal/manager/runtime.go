package manager

import (
	"fmt"
	"sync"
	"time"

	"netcontrol/internal/device"
	"netcontrol/internal/provider"
)

// LocalStatus is the last connectivity change this instance observed for a
// device.
type LocalStatus struct {
	Connected bool
	Since     time.Time
}

// Runtime is the manager's mutable runtime context: registered providers,
// per-device local status and the role last pushed to each adapter.
type Runtime struct {
	mu       sync.RWMutex
	gateways map[device.ProviderID]*gateway
	schemes  map[string]*gateway

	statuses sync.Map // device.ID -> LocalStatus
	applied  sync.Map // device.ID -> *roleState
}

// roleState is what this instance last asserted on a device's adapter
// session. push serializes assertions; mu guards the fields.
type roleState struct {
	push sync.Mutex

	mu     sync.Mutex
	role   device.Role
	probed bool
}

func newRuntime() *Runtime {
	return &Runtime{
		gateways: make(map[device.ProviderID]*gateway),
		schemes:  make(map[string]*gateway),
	}
}

func (r *Runtime) add(g *gateway) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, scheme := g.provider.ID(), g.provider.Scheme()
	if _, ok := r.gateways[id]; ok {
		return fmt.Errorf("provider %s: %w", id, provider.ErrDuplicateProvider)
	}
	if _, ok := r.schemes[scheme]; ok {
		return fmt.Errorf("scheme %q: %w", scheme, provider.ErrDuplicateProvider)
	}
	r.gateways[id] = g
	r.schemes[scheme] = g
	return nil
}

func (r *Runtime) remove(id device.ProviderID) *gateway {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.gateways[id]
	if g == nil {
		return nil
	}
	delete(r.gateways, id)
	delete(r.schemes, g.scheme)
	return g
}

func (r *Runtime) byScheme(scheme string) *gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemes[scheme]
}

func (r *Runtime) byID(id device.ProviderID) *gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gateways[id]
}

func (r *Runtime) setStatus(id device.ID, connected bool, at time.Time) {
	r.statuses.Store(id, LocalStatus{Connected: connected, Since: at})
}

func (r *Runtime) status(id device.ID) (LocalStatus, bool) {
	v, ok := r.statuses.Load(id)
	if !ok {
		return LocalStatus{}, false
	}
	return v.(LocalStatus), true
}

func (r *Runtime) roleState(id device.ID) *roleState {
	v, _ := r.applied.LoadOrStore(id, &roleState{role: device.RoleNone})
	return v.(*roleState)
}

func (r *Runtime) appliedRole(id device.ID) device.Role {
	v, ok := r.applied.Load(id)
	if !ok {
		return device.RoleNone
	}
	st := v.(*roleState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.role
}

// setApplied records role as asserted. A different role needs a new probe.
func (r *Runtime) setApplied(id device.ID, role device.Role) {
	st := r.roleState(id)
	st.mu.Lock()
	if st.role != role {
		st.role = role
		st.probed = false
	}
	st.mu.Unlock()
}

// clearApplied forgets what was asserted, as for a fresh adapter session.
func (r *Runtime) clearApplied(id device.ID) {
	v, ok := r.applied.Load(id)
	if !ok {
		return
	}
	st := v.(*roleState)
	st.mu.Lock()
	st.role = device.RoleNone
	st.probed = false
	st.mu.Unlock()
}

func (r *Runtime) forget(id device.ID) {
	r.applied.Delete(id)
	r.statuses.Delete(id)
}
