package mozart

import "errors"

// Sentinel errors for Mozart device operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, mozart.ErrNotALeader) {
//	    // Device cannot expand while listening to another leader
//	}
var (
	// ErrConnectionLost indicates the websocket to the device dropped.
	// Handled internally by the connection supervisor; never returned
	// to command callers.
	ErrConnectionLost = errors.New("mozart: connection lost")

	// ErrMalformedNotification indicates a notification frame that could
	// not be decoded. The frame is dropped and the stream continues.
	ErrMalformedNotification = errors.New("mozart: malformed notification")

	// ErrInvalidGroupingTarget indicates a Beolink JID that does not
	// resolve to a known discovered peer.
	ErrInvalidGroupingTarget = errors.New("mozart: invalid grouping target")

	// ErrNotALeader indicates a group operation that requires the local
	// device to lead (or to be playing an expandable source).
	ErrNotALeader = errors.New("mozart: not a leader")

	// ErrInvalidParameter indicates a command parameter that is missing,
	// of the wrong type, or out of range.
	ErrInvalidParameter = errors.New("mozart: invalid parameter")

	// ErrRemoteCommandFailed indicates the device REST API rejected a
	// command. The remote detail is attached via wrapping.
	ErrRemoteCommandFailed = errors.New("mozart: remote command failed")

	// ErrNotConnected indicates the device transport is not connected.
	ErrNotConnected = errors.New("mozart: not connected")

	// ErrBridgeStopped indicates an operation on a stopped bridge.
	ErrBridgeStopped = errors.New("mozart: bridge stopped")
)
