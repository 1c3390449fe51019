package mastership

import (
	"log/slog"
	"slices"
	"sync"

	"netcontrol/internal/device"
)

// roleCache is the local view of role assignments shared by the service
// implementations. Updates carry a revision and stale ones are dropped.
type roleCache struct {
	local  NodeID
	logger *slog.Logger

	mu      sync.RWMutex
	records map[device.ID]*record
	revs    map[device.ID]uint64

	lmu       sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

func newRoleCache(local NodeID, logger *slog.Logger) *roleCache {
	return &roleCache{
		local:     local,
		logger:    logger,
		records:   make(map[device.ID]*record),
		revs:      make(map[device.ID]uint64),
		listeners: make(map[uint64]Listener),
	}
}

func (c *roleCache) LocalNode() NodeID { return c.local }

func (c *roleCache) LocalRole(id device.ID) device.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records[id].roleOf(c.local)
}

func (c *roleCache) IsLocalMaster(id device.ID) bool {
	return c.LocalRole(id) == device.RoleMaster
}

func (c *roleCache) Term(id device.ID) (Term, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.records[id]
	if r == nil || r.Master == "" {
		return Term{}, false
	}
	return Term{Master: r.Master, Number: r.Term}, true
}

func (c *roleCache) get(id device.ID) *record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r := c.records[id]; r != nil {
		return r.clone()
	}
	return nil
}

func (c *roleCache) AddListener(fn Listener) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()
		delete(c.listeners, id)
	}
}

// apply installs r (nil deletes) at revision rev and notifies listeners of
// any change in master or backups.
func (c *roleCache) apply(id device.ID, r *record, rev uint64) {
	c.mu.Lock()
	if rev <= c.revs[id] {
		c.mu.Unlock()
		return
	}
	c.revs[id] = rev
	old := c.records[id]
	if r == nil {
		delete(c.records, id)
	} else {
		c.records[id] = r.clone()
	}
	c.mu.Unlock()

	var oldInfo, newInfo RoleInfo
	if old != nil {
		oldInfo = RoleInfo{Master: old.Master, Backups: old.Backups}
	}
	if r != nil {
		newInfo = RoleInfo{Master: r.Master, Backups: slices.Clone(r.Backups)}
	}
	switch {
	case oldInfo.Master != newInfo.Master:
		c.notify(Event{Type: MasterChanged, Device: id, Info: newInfo})
	case !slices.Equal(oldInfo.Backups, newInfo.Backups):
		c.notify(Event{Type: BackupsChanged, Device: id, Info: newInfo})
	}
}

func (c *roleCache) notify(ev Event) {
	c.lmu.RLock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.lmu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("mastership listener panic", "device", ev.Device, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}
