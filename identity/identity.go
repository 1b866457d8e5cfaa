// Package identity defines the addressing model for the messaging core.
//
// An Identity names a recipient within an application. A bare identity
// carries no device component and may resolve to any number of device
// endpoints; a full identity names exactly one device.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress indicates an address string that does not follow the
// user%app@domain/device form.
var ErrInvalidAddress = errors.New("invalid address")

// Identity identifies a user, and optionally one of the user's devices,
// within an application.
type Identity struct {
	AppID    string
	UserID   string
	DeviceID string
}

// New creates a full identity for the given device.
func New(appID, userID, deviceID string) Identity {
	return Identity{AppID: appID, UserID: userID, DeviceID: deviceID}
}

// NewBare creates a bare identity with no device component.
func NewBare(appID, userID string) Identity {
	return Identity{AppID: appID, UserID: userID}
}

// IsBare reports whether the identity has no device component.
func (id Identity) IsBare() bool {
	return id.DeviceID == ""
}

// IsZero reports whether the identity is entirely empty.
func (id Identity) IsZero() bool {
	return id.AppID == "" && id.UserID == "" && id.DeviceID == ""
}

// Bare returns a copy of the identity with the device component stripped.
func (id Identity) Bare() Identity {
	return Identity{AppID: id.AppID, UserID: id.UserID}
}

// WithDevice returns a copy of the identity addressed to the given device.
func (id Identity) WithDevice(deviceID string) Identity {
	return Identity{AppID: id.AppID, UserID: id.UserID, DeviceID: deviceID}
}

// Equal reports whether two identities name the same endpoint.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// Address renders the identity in wire form: user%app@domain or
// user%app@domain/device for a full identity. A multicast placeholder
// (empty user) renders with an empty node part.
func (id Identity) Address(domain string) string {
	addr := fmt.Sprintf("%s%%%s@%s", id.UserID, id.AppID, domain)
	if id.DeviceID != "" {
		addr += "/" + id.DeviceID
	}
	return addr
}

// String implements fmt.Stringer using an empty domain marker. Intended
// for logging only; use Address for wire form.
func (id Identity) String() string {
	if id.DeviceID == "" {
		return fmt.Sprintf("%s%%%s", id.UserID, id.AppID)
	}
	return fmt.Sprintf("%s%%%s/%s", id.UserID, id.AppID, id.DeviceID)
}

// Parse parses a wire-form address into an Identity and its domain.
// The device component is optional.
func Parse(addr string) (Identity, string, error) {
	var deviceID string
	if slash := strings.IndexByte(addr, '/'); slash >= 0 {
		deviceID = addr[slash+1:]
		addr = addr[:slash]
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return Identity{}, "", fmt.Errorf("%w: missing domain in %q", ErrInvalidAddress, addr)
	}
	domain := addr[at+1:]
	node := addr[:at]
	pct := strings.LastIndexByte(node, '%')
	if pct < 0 {
		return Identity{}, "", fmt.Errorf("%w: missing app id in %q", ErrInvalidAddress, addr)
	}
	id := Identity{
		UserID:   node[:pct],
		AppID:    node[pct+1:],
		DeviceID: deviceID,
	}
	if id.AppID == "" {
		return Identity{}, "", fmt.Errorf("%w: empty app id in %q", ErrInvalidAddress, addr)
	}
	return id, domain, nil
}
