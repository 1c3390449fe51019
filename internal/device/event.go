package device

import "time"

// EventType names a device or port change.
type EventType string

const (
	DeviceAdded               EventType = "device_added"
	DeviceUpdated             EventType = "device_updated"
	DeviceRemoved             EventType = "device_removed"
	DeviceAvailabilityChanged EventType = "device_availability_changed"
	PortAdded                 EventType = "port_added"
	PortUpdated               EventType = "port_updated"
	PortRemoved               EventType = "port_removed"
	PortStatsUpdated          EventType = "port_stats_updated"
)

// Event is a change to the device inventory. Device is a snapshot taken
// when the change was committed; Port is set for port events.
type Event struct {
	Type   EventType `json:"type"`
	Device *Device   `json:"device"`
	Port   *Port     `json:"port,omitempty"`
	Time   time.Time `json:"time"`
}

// Subject returns the device id the event is about.
func (e Event) Subject() ID {
	if e.Device == nil {
		return ""
	}
	return e.Device.ID
}
