package store

import (
	"errors"

	"netcontrol/internal/device"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrNotMaster is returned by availability writes when this instance does not
// hold mastership of the device.
var ErrNotMaster = errors.New("not master")

// Delegate receives events the store produces outside a call's return value.
type Delegate func(device.Event)

// Store is the device inventory. Mutations return the event they caused, or
// nil when nothing changed. Each mutation is atomic per device.
type Store interface {
	CreateOrUpdateDevice(pid device.ProviderID, id device.ID, desc *device.Description) (*device.Event, error)
	RemoveDevice(id device.ID) (*device.Event, error)
	MarkOnline(id device.ID) (*device.Event, error)
	MarkOffline(id device.ID) (*device.Event, error)

	// UpdatePorts replaces the provider's port list for a device. Ports of
	// the same provider missing from descs are removed.
	UpdatePorts(pid device.ProviderID, id device.ID, descs []*device.PortDescription) ([]device.Event, error)
	UpdatePortStatus(pid device.ProviderID, id device.ID, desc *device.PortDescription) (*device.Event, error)
	UpdatePortStatistics(pid device.ProviderID, id device.ID, stats []device.PortStatistics) (*device.Event, error)

	GetDevice(id device.ID) (*device.Device, error)
	GetDevices() ([]*device.Device, error)
	GetPort(id device.ID, n device.PortNumber) (*device.Port, error)
	GetPorts(id device.ID) ([]*device.Port, error)
	GetPortStatistics(id device.ID) ([]device.PortStatistics, error)
	IsAvailable(id device.ID) bool

	SetDelegate(d Delegate)
	Close() error
}
