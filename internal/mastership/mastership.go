// Package mastership tracks which cluster instance controls each device.
package mastership

//go:generate mockgen -destination=mock_mastership.go -package=mastership netcontrol/internal/mastership Service

import (
	"context"
	"errors"
	"slices"

	"netcontrol/internal/device"
)

// NodeID identifies a controller instance.
type NodeID string

// Term is a device's mastership generation. Number grows every time the
// master changes.
type Term struct {
	Master NodeID `json:"master"`
	Number uint64 `json:"number"`
}

// RoleInfo is the cluster-wide role assignment for a device.
type RoleInfo struct {
	Master  NodeID   `json:"master"`
	Backups []NodeID `json:"backups,omitempty"`
}

// EventType names a mastership change.
type EventType string

const (
	MasterChanged  EventType = "master_changed"
	BackupsChanged EventType = "backups_changed"
)

// Event reports a change in a device's role assignment.
type Event struct {
	Type   EventType
	Device device.ID
	Info   RoleInfo
}

// Listener receives mastership events.
type Listener func(Event)

// ErrConflict is returned when a role change kept losing concurrent
// updates.
var ErrConflict = errors.New("mastership update conflict")

// Service is the cluster mastership service.
type Service interface {
	LocalNode() NodeID
	// RequestRoleFor asks for mastership of id and returns the role granted
	// to this instance.
	RequestRoleFor(ctx context.Context, id device.ID) (device.Role, error)
	RelinquishMastership(ctx context.Context, id device.ID) error
	LocalRole(id device.ID) device.Role
	IsLocalMaster(id device.ID) bool
	Term(id device.ID) (Term, bool)
	AddListener(fn Listener) func()
}

// record is the persisted role assignment of one device.
type record struct {
	Master  NodeID   `json:"master,omitempty"`
	Backups []NodeID `json:"backups,omitempty"`
	Term    uint64   `json:"term"`
}

func (r *record) clone() *record {
	c := *r
	c.Backups = slices.Clone(r.Backups)
	return &c
}

func (r *record) roleOf(n NodeID) device.Role {
	switch {
	case r == nil:
		return device.RoleNone
	case r.Master == n:
		return device.RoleMaster
	case slices.Contains(r.Backups, n):
		return device.RoleStandby
	}
	return device.RoleNone
}

// request returns the record after n asks for mastership, or nil when the
// record already reflects n's role, and the role n ends up with.
func (r *record) request(n NodeID) (*record, device.Role) {
	switch {
	case r.Master == n:
		return nil, device.RoleMaster
	case r.Master == "":
		next := r.clone()
		next.Master = n
		next.Backups = slices.DeleteFunc(next.Backups, func(b NodeID) bool { return b == n })
		next.Term++
		return next, device.RoleMaster
	case slices.Contains(r.Backups, n):
		return nil, device.RoleStandby
	}
	next := r.clone()
	next.Backups = append(next.Backups, n)
	return next, device.RoleStandby
}

// relinquish returns the record after n gives up its role, or nil when n
// holds none. A departing master hands over to the first backup.
func (r *record) relinquish(n NodeID) *record {
	switch {
	case r.Master == n:
		next := r.clone()
		next.Master = ""
		if len(next.Backups) > 0 {
			next.Master = next.Backups[0]
			next.Backups = next.Backups[1:]
		}
		next.Term++
		return next
	case slices.Contains(r.Backups, n):
		next := r.clone()
		next.Backups = slices.DeleteFunc(next.Backups, func(b NodeID) bool { return b == n })
		return next
	}
	return nil
}
