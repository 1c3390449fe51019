// Package overlay merges operator-supplied configuration over what providers
// report about devices and ports.
//
// Every combine function is pure: inputs are never modified and, when the
// overlay contributes nothing, the input pointer is returned as is.
package overlay

import (
	"maps"
	"slices"
	"strconv"

	"netcontrol/internal/device"
)

// BasicDeviceConfig is the per-device operator overlay.
type BasicDeviceConfig struct {
	// Allowed false excludes the device from the inventory. Nil means allowed.
	Allowed *bool `yaml:"allowed,omitempty" json:"allowed,omitempty"`

	Type         device.Type `yaml:"type,omitempty" json:"type,omitempty"`
	Manufacturer string      `yaml:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	HWVersion    string      `yaml:"hw_version,omitempty" json:"hw_version,omitempty"`
	SWVersion    string      `yaml:"sw_version,omitempty" json:"sw_version,omitempty"`
	SerialNumber string      `yaml:"serial_number,omitempty" json:"serial_number,omitempty"`

	Name              string  `yaml:"name,omitempty" json:"name,omitempty"`
	Driver            string  `yaml:"driver,omitempty" json:"driver,omitempty"`
	Latitude          *string `yaml:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude         *string `yaml:"longitude,omitempty" json:"longitude,omitempty"`
	RackAddress       string  `yaml:"rack_address,omitempty" json:"rack_address,omitempty"`
	Owner             string  `yaml:"owner,omitempty" json:"owner,omitempty"`
	ManagementAddress string  `yaml:"management_address,omitempty" json:"management_address,omitempty"`
}

// IsAllowed reports whether cfg admits its device. A nil config admits.
func IsAllowed(cfg *BasicDeviceConfig) bool {
	return cfg == nil || cfg.Allowed == nil || *cfg.Allowed
}

// Annotations returns the annotation keys the config sets.
func (c *BasicDeviceConfig) Annotations() device.Annotations {
	if c == nil {
		return nil
	}
	a := device.Annotations{}
	set := func(k, v string) {
		if v != "" {
			a[k] = v
		}
	}
	set(device.AnnotationName, c.Name)
	set(device.AnnotationDriver, c.Driver)
	if c.Latitude != nil {
		a[device.AnnotationLatitude] = *c.Latitude
	}
	if c.Longitude != nil {
		a[device.AnnotationLongitude] = *c.Longitude
	}
	set(device.AnnotationRackAddress, c.RackAddress)
	set(device.AnnotationOwner, c.Owner)
	set(device.AnnotationManagementAddress, c.ManagementAddress)
	if len(a) == 0 {
		return nil
	}
	return a
}

// OpticalPortConfig is the per-port optical overlay.
type OpticalPortConfig struct {
	Type         device.PortType    `yaml:"type,omitempty" json:"type,omitempty"`
	Number       *device.PortNumber `yaml:"port,omitempty" json:"port,omitempty"`
	Name         string             `yaml:"name,omitempty" json:"name,omitempty"`
	StaticPort   string             `yaml:"static_port,omitempty" json:"static_port,omitempty"`
	StaticLambda *int64             `yaml:"static_lambda,omitempty" json:"static_lambda,omitempty"`
}

// Annotations returns the annotation keys the config sets.
func (c *OpticalPortConfig) Annotations() device.Annotations {
	if c == nil {
		return nil
	}
	a := device.Annotations{}
	if c.Name != "" {
		a[device.AnnotationPortName] = c.Name
	}
	if c.StaticPort != "" {
		a[device.AnnotationStaticPort] = c.StaticPort
	}
	if c.StaticLambda != nil {
		a[device.AnnotationStaticLambda] = strconv.FormatInt(*c.StaticLambda, 10)
	}
	if len(a) == 0 {
		return nil
	}
	return a
}

// PortAnnotationConfig is the per-port annotation overlay.
type PortAnnotationConfig struct {
	Annotations device.Annotations `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// Keys returns the annotation keys the config sets.
func (c *PortAnnotationConfig) Keys() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.Annotations))
}

// DroppedKeys returns keys present in prev but absent from next, the keys a
// replacing overlay must remove.
func DroppedKeys(prev, next device.Annotations) []string {
	var out []string
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
