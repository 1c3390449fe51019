package device

import "fmt"

// Role is this instance's control relationship to a device.
//
// The zero value RoleUnknown means no role information is available, as
// when an adapter reports a role reply after a channel failure.
type Role int

const (
	RoleUnknown Role = iota
	RoleNone
	RoleMaster
	RoleStandby
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "NONE"
	case RoleMaster:
		return "MASTER"
	case RoleStandby:
		return "STANDBY"
	}
	return "UNKNOWN"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NONE":
		*r = RoleNone
	case "MASTER":
		*r = RoleMaster
	case "STANDBY":
		*r = RoleStandby
	case "UNKNOWN", "":
		*r = RoleUnknown
	default:
		return fmt.Errorf("unknown role %q", b)
	}
	return nil
}
