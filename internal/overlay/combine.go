package overlay

import (
	"log/slog"

	"netcontrol/internal/device"
)

// Annotate applies set over annotations and then drops the remove keys. It
// reports whether the result differs from the input.
func Annotate(annotations device.Annotations, set device.Annotations, remove []string) (device.Annotations, bool) {
	out := device.Union(annotations, set)
	out = out.Without(remove...)
	if out.Equal(annotations) {
		return annotations, false
	}
	return out, true
}

// CombineDevice overlays cfg on desc. A field from cfg wins only when it is
// set and differs from the reported value. remove lists overlay keys that a
// previous config version set and the current one no longer does.
func CombineDevice(cfg *BasicDeviceConfig, desc *device.Description, remove ...string) *device.Description {
	if desc == nil {
		return nil
	}
	if cfg == nil && len(remove) == 0 {
		return desc
	}
	out := *desc
	changed := false
	pick := func(dst *string, v string) {
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	if cfg != nil {
		if cfg.Type != "" && cfg.Type != out.Type {
			out.Type = cfg.Type
			changed = true
		}
		pick(&out.Manufacturer, cfg.Manufacturer)
		pick(&out.HWVersion, cfg.HWVersion)
		pick(&out.SWVersion, cfg.SWVersion)
		pick(&out.SerialNumber, cfg.SerialNumber)
	}
	a, ok := Annotate(desc.Annotations, cfg.Annotations(), remove)
	if !ok && !changed {
		return desc
	}
	out.Annotations = a.Copy()
	return &out
}

// CombinePortAnnotations overlays cfg's annotations on desc, removing keys in
// remove first.
func CombinePortAnnotations(cfg *PortAnnotationConfig, desc *device.PortDescription, remove ...string) *device.PortDescription {
	if desc == nil {
		return nil
	}
	var set device.Annotations
	if cfg != nil {
		set = cfg.Annotations
	}
	a, ok := Annotate(desc.Annotations, set, remove)
	if !ok {
		return desc
	}
	out := *desc
	out.Annotations = a.Copy()
	return &out
}

// CombineOpticalPort overlays an optical port config on desc. A config that
// names a sub-type different from the reported one is ignored with a
// warning. Non-optical ports are returned unchanged.
func CombineOpticalPort(logger *slog.Logger, cp device.ConnectPoint, cfg *OpticalPortConfig, desc *device.PortDescription) *device.PortDescription {
	if cfg == nil || desc == nil {
		return desc
	}
	switch desc.Type {
	case device.PortCopper, device.PortVirtual, device.PortPacket:
		return desc
	case device.PortOMS, device.PortOCH, device.PortODUCLT, device.PortOTU, device.PortOSC, device.PortFiber:
	default:
		logger.Warn("unsupported optical port type, config not applied",
			"port", cp.String(), "type", desc.Type)
		return desc
	}
	if cfg.Type != "" && cfg.Type != desc.Type {
		logger.Warn("optical port config type mismatch, config not applied",
			"port", cp.String(), "configured", cfg.Type, "reported", desc.Type)
		return desc
	}

	out := *desc
	changed := false
	if cfg.Number != nil && *cfg.Number != desc.Number {
		out.Number = *cfg.Number
		changed = true
	}
	a, ok := Annotate(desc.Annotations, cfg.Annotations(), nil)
	if !ok && !changed {
		return desc
	}
	out.Annotations = a.Copy()
	return &out
}
