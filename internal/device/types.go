package device

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Device is one known Mozart device, discovered over mDNS or configured
// statically. The JID (Jabber-style Beolink identifier) is the primary
// key across the whole system: MQTT topics, the registry, and Beolink
// grouping all address devices by JID.
type Device struct {
	// JID is the Beolink identifier, e.g.
	// "1234.1234567.12345678@products.bang-olufsen.com".
	JID string `json:"jid"`

	// Name is the device's friendly name as reported over mDNS or
	// configured by the operator.
	Name string `json:"name"`

	// Model is the product name, e.g. "Beosound Balance".
	Model string `json:"model,omitempty"`

	// Serial is the device serial number.
	Serial string `json:"serial,omitempty"`

	// Address is the device's IP address or hostname.
	Address string `json:"address"`

	// SoftwareVersion is the last reported firmware version.
	SoftwareVersion string `json:"software_version,omitempty"`

	// LastSeen is when the device was last observed on the network.
	// Zero if never seen since registration.
	LastSeen time.Time `json:"last_seen,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// jidPattern matches the product JID shape: type.serial.item@domain.
var jidPattern = regexp.MustCompile(`^\d{4}\.\d{7}\.\d{8}@[a-z0-9.-]+$`)

// Validate checks the device for storage.
func (d *Device) Validate() error {
	if d.JID == "" {
		return fmt.Errorf("%w: JID is required", ErrInvalidDevice)
	}
	if !jidPattern.MatchString(d.JID) {
		return fmt.Errorf("%w: malformed JID %q", ErrInvalidJID, d.JID)
	}
	if strings.TrimSpace(d.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	return nil
}

// SerialFromJID extracts the serial number segment of a JID.
// Returns an empty string when the JID is malformed.
func SerialFromJID(jid string) string {
	parts := strings.SplitN(jid, "@", 2)
	segments := strings.Split(parts[0], ".")
	if len(segments) != 3 {
		return ""
	}
	return segments[1]
}
