// Package device holds the infrastructure device model shared by the store,
// the manager and the northbound surfaces.
package device

import (
	"strings"
	"time"
)

// ID identifies a device. It is a URI whose scheme selects the provider,
// e.g. "of:0000000000000001".
type ID string

// Scheme returns the URI scheme of the id, or "" when it has none.
func (id ID) Scheme() string {
	s, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return ""
	}
	return s
}

// ProviderID identifies a provider adapter instance.
type ProviderID string

// Type is the device category.
type Type string

const (
	TypeSwitch         Type = "SWITCH"
	TypeRouter         Type = "ROUTER"
	TypeROADM          Type = "ROADM"
	TypeOTN            Type = "OTN"
	TypeROADMOTN       Type = "ROADM_OTN"
	TypeOLS            Type = "OLS"
	TypeTerminalDevice Type = "TERMINAL_DEVICE"
	TypeOther          Type = "OTHER"
)

// IsOptical reports whether the device is an optical transport device.
// Port status changes reported for such devices carry only a trustworthy
// enabled bit.
func (t Type) IsOptical() bool {
	switch t {
	case TypeROADM, TypeOTN, TypeROADMOTN, TypeOLS, TypeTerminalDevice:
		return true
	}
	return false
}

// Well-known annotation keys.
const (
	AnnotationName              = "name"
	AnnotationDriver            = "driver"
	AnnotationLatitude          = "latitude"
	AnnotationLongitude         = "longitude"
	AnnotationRackAddress       = "rackAddress"
	AnnotationOwner             = "owner"
	AnnotationManagementAddress = "managementAddress"
	AnnotationPortName          = "portName"
	AnnotationStaticPort        = "staticPort"
	AnnotationStaticLambda      = "staticLambda"
)

// Description is what a provider reports about a device.
type Description struct {
	Type         Type        `json:"type"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	HWVersion    string      `json:"hw_version,omitempty"`
	SWVersion    string      `json:"sw_version,omitempty"`
	SerialNumber string      `json:"serial_number,omitempty"`
	ChassisID    string      `json:"chassis_id,omitempty"`
	Annotations  Annotations `json:"annotations,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Description) Clone() *Description {
	if d == nil {
		return nil
	}
	c := *d
	c.Annotations = d.Annotations.Copy()
	return &c
}

// Device is the stored record of a device.
type Device struct {
	ID           ID          `json:"id"`
	ProviderID   ProviderID  `json:"provider_id"`
	Type         Type        `json:"type"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	HWVersion    string      `json:"hw_version,omitempty"`
	SWVersion    string      `json:"sw_version,omitempty"`
	SerialNumber string      `json:"serial_number,omitempty"`
	ChassisID    string      `json:"chassis_id,omitempty"`
	Annotations  Annotations `json:"annotations,omitempty"`
	Available    bool        `json:"available"`
	Updated      time.Time   `json:"updated"`
}

// Description returns the description the device was built from.
func (d *Device) Description() *Description {
	return &Description{
		Type:         d.Type,
		Manufacturer: d.Manufacturer,
		HWVersion:    d.HWVersion,
		SWVersion:    d.SWVersion,
		SerialNumber: d.SerialNumber,
		ChassisID:    d.ChassisID,
		Annotations:  d.Annotations.Copy(),
	}
}

// Name returns the "name" annotation, falling back to the id.
func (d *Device) Name() string {
	if n := d.Annotations[AnnotationName]; n != "" {
		return n
	}
	return string(d.ID)
}
