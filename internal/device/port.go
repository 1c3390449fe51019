package device

import (
	"strconv"
	"time"
)

// PortNumber is a port's number within its device.
type PortNumber uint64

func (n PortNumber) String() string { return strconv.FormatUint(uint64(n), 10) }

// ParsePortNumber parses a decimal port number.
func ParsePortNumber(s string) (PortNumber, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return PortNumber(v), nil
}

// PortType is the port's physical or logical sub-type.
type PortType string

const (
	PortCopper  PortType = "COPPER"
	PortFiber   PortType = "FIBER"
	PortVirtual PortType = "VIRTUAL"
	PortPacket  PortType = "PACKET"
	PortOMS     PortType = "OMS"
	PortOCH     PortType = "OCH"
	PortODUCLT  PortType = "ODUCLT"
	PortOTU     PortType = "OTU"
	PortOSC     PortType = "OSC"
)

// IsOptical reports whether the port carries an optical sub-type.
func (t PortType) IsOptical() bool {
	switch t {
	case PortOMS, PortOCH, PortODUCLT, PortOTU, PortOSC:
		return true
	}
	return false
}

// PortDescription is what a provider reports about a port.
type PortDescription struct {
	Number      PortNumber  `json:"number"`
	Enabled     bool        `json:"enabled"`
	Removed     bool        `json:"removed,omitempty"`
	Type        PortType    `json:"type"`
	Speed       uint64      `json:"speed,omitempty"`
	Annotations Annotations `json:"annotations,omitempty"`
}

// Clone returns a deep copy of d.
func (d *PortDescription) Clone() *PortDescription {
	if d == nil {
		return nil
	}
	c := *d
	c.Annotations = d.Annotations.Copy()
	return &c
}

// Port is the stored record of a port.
type Port struct {
	DeviceID    ID          `json:"device_id"`
	ProviderID  ProviderID  `json:"provider_id"`
	Number      PortNumber  `json:"number"`
	Enabled     bool        `json:"enabled"`
	Removed     bool        `json:"removed,omitempty"`
	Type        PortType    `json:"type"`
	Speed       uint64      `json:"speed,omitempty"`
	Annotations Annotations `json:"annotations,omitempty"`
	Updated     time.Time   `json:"updated"`
}

// Description returns the port's description.
func (p *Port) Description() *PortDescription {
	return &PortDescription{
		Number:      p.Number,
		Enabled:     p.Enabled,
		Removed:     p.Removed,
		Type:        p.Type,
		Speed:       p.Speed,
		Annotations: p.Annotations.Copy(),
	}
}

// ConnectPoint addresses one port of one device.
type ConnectPoint struct {
	Device ID         `json:"device"`
	Port   PortNumber `json:"port"`
}

func (cp ConnectPoint) String() string { return string(cp.Device) + "/" + cp.Port.String() }

// PortStatistics are the counters of one port.
type PortStatistics struct {
	Port            PortNumber `json:"port"`
	PacketsReceived uint64     `json:"packets_received"`
	PacketsSent     uint64     `json:"packets_sent"`
	BytesReceived   uint64     `json:"bytes_received"`
	BytesSent       uint64     `json:"bytes_sent"`
	RxDropped       uint64     `json:"rx_dropped"`
	TxDropped       uint64     `json:"tx_dropped"`
	RxErrors        uint64     `json:"rx_errors"`
	TxErrors        uint64     `json:"tx_errors"`
	DurationSec     uint64     `json:"duration_sec"`
}
