package device

import "errors"

// Domain errors for the device package, checked with errors.Is().
var (
	// ErrDeviceNotFound is returned when a JID does not exist in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a JID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidJID is returned when a JID does not match the Beolink format.
	ErrInvalidJID = errors.New("device: invalid JID")
)
