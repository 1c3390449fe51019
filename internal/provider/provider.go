// Package provider defines the contract between the device manager and the
// southbound adapters that talk to devices.
package provider

//go:generate mockgen -destination=mock_provider.go -package=provider netcontrol/internal/provider Provider

import (
	"context"
	"errors"

	"netcontrol/internal/device"
)

// ErrDuplicateProvider is returned when a provider's scheme is already
// registered.
var ErrDuplicateProvider = errors.New("provider already registered")

// Provider is implemented by a southbound adapter. Calls are one-way
// requests; results come back through Service.
type Provider interface {
	ID() device.ProviderID
	// Scheme is the device id scheme the provider handles, e.g. "of".
	Scheme() string
	IsReachable(id device.ID) bool
	// RoleChanged tells the adapter which role to assert toward the device.
	RoleChanged(id device.ID, role device.Role) error
	// TriggerProbe asks the adapter to re-describe the device.
	TriggerProbe(id device.ID)
	ChangePortState(ctx context.Context, id device.ID, port device.PortNumber, enable bool) error
}

// Service is handed to a provider at registration. The adapter reports
// device and port state through it.
type Service interface {
	DeviceConnected(id device.ID, desc *device.Description)
	DeviceDisconnected(id device.ID)
	UpdatePorts(id device.ID, ports []*device.PortDescription)
	PortStatusChanged(id device.ID, port *device.PortDescription)
	DeletePort(id device.ID, port *device.PortDescription)
	// ReceivedRoleReply reports the outcome of a role request. RoleUnknown
	// in both requested and response signals a channel failure.
	ReceivedRoleReply(id device.ID, requested, response device.Role)
	UpdatePortStatistics(id device.ID, stats []device.PortStatistics)
}

// Registry admits providers.
type Registry interface {
	Register(p Provider) (Service, error)
	Unregister(p Provider)
}
