//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"netcontrol/internal/device"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	Name         string   `json:"name"`
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeID is the HA object id for a device: the id with anything outside
// [a-z0-9_-] replaced.
func nodeID(id device.ID) string {
	return "netcontrol_" + strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return '_'
	}, string(id))
}

func haDeviceFor(dev *device.Device) haDevice {
	return haDevice{
		Identifiers:  []string{nodeID(dev.ID)},
		Manufacturer: dev.Manufacturer,
		Model:        string(dev.Type),
		SWVersion:    dev.SWVersion,
		Name:         dev.Name(),
	}
}

// buildDeviceDiscovery announces the device's availability as a
// connectivity binary sensor.
func buildDeviceDiscovery(dev *device.Device, prefix string) []discoveryMsg {
	id := nodeID(dev.ID)
	payload := haDiscovery{
		Name:              dev.Name() + " Connectivity",
		UniqueID:          id + "_available",
		StateTopic:        prefix + "/devices/" + topicID(dev.ID),
		AvailabilityTopic: prefix + "/bridge/state",
		ValueTemplate:     "{{ 'ON' if value_json.available else 'OFF' }}",
		DeviceClass:       "connectivity",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDeviceFor(dev),
	}
	return []discoveryMsg{{
		Topic:   fmt.Sprintf("homeassistant/binary_sensor/%s/available/config", id),
		Payload: mustJSON(payload),
	}}
}

// buildPortDiscovery announces a port as a switch driving its enabled state.
func buildPortDiscovery(dev *device.Device, p *device.Port, prefix string) discoveryMsg {
	id := nodeID(dev.ID)
	portTopic := prefix + "/devices/" + topicID(dev.ID) + "/ports/" + p.Number.String()
	name := p.Annotations[device.AnnotationPortName]
	if name == "" {
		name = "Port " + p.Number.String()
	}
	payload := haDiscovery{
		Name:              dev.Name() + " " + name,
		UniqueID:          id + "_port_" + p.Number.String(),
		StateTopic:        portTopic,
		CommandTopic:      portTopic + "/set",
		AvailabilityTopic: prefix + "/bridge/state",
		ValueTemplate:     "{{ 'enable' if value_json.enabled else 'disable' }}",
		PayloadOn:         "enable",
		PayloadOff:        "disable",
		StateOn:           "enable",
		StateOff:          "disable",
		Device:            haDeviceFor(dev),
	}
	return discoveryMsg{
		Topic:   fmt.Sprintf("homeassistant/switch/%s/port_%s/config", id, p.Number),
		Payload: mustJSON(payload),
	}
}

func removeDeviceDiscovery(id device.ID) []discoveryMsg {
	return []discoveryMsg{{Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/available/config", nodeID(id))}}
}

func removePortDiscovery(id device.ID, n device.PortNumber) discoveryMsg {
	return discoveryMsg{Topic: fmt.Sprintf("homeassistant/switch/%s/port_%s/config", nodeID(id), n)}
}
