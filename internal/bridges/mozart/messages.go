package mozart

import (
	"time"

	"github.com/google/uuid"
)

// Ack statuses for command acknowledgements.
const (
	AckStatusAccepted = "accepted"
	AckStatusFailed   = "failed"
)

// Error codes carried in failed acks.
const (
	ErrCodeInvalidParameters = "invalid_parameters"
	ErrCodeUnknownCommand    = "unknown_command"
	ErrCodeInvalidTarget     = "invalid_target"
	ErrCodeNotALeader        = "not_a_leader"
	ErrCodeDeviceUnavailable = "device_unavailable"
	ErrCodeRemoteFailed      = "remote_failed"
	ErrCodeInternalError     = "internal_error"
)

// EventMessage is one classified input event published to
// beobridge/event/mozart/{jid}/{control}.
type EventMessage struct {
	ID        string `json:"id"`
	JID       string `json:"jid"`
	Control   string `json:"control"`
	Event     string `json:"event"`
	Timestamp int64  `json:"ts"`

	// Set for rotation events only.
	Direction int `json:"direction,omitempty"`
	Magnitude int `json:"magnitude,omitempty"`
}

// NewButtonEventMessage builds the payload for a classified button event.
func NewButtonEventMessage(jid string, ev ButtonEvent) EventMessage {
	return EventMessage{
		ID:        uuid.NewString(),
		JID:       jid,
		Control:   ev.Control,
		Event:     ev.Event,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewRotationEventMessage builds the payload for a settled wheel gesture.
func NewRotationEventMessage(jid string, ev RotationEvent) EventMessage {
	return EventMessage{
		ID:        uuid.NewString(),
		JID:       jid,
		Control:   ev.Control,
		Event:     "rotation",
		Direction: ev.Direction,
		Magnitude: ev.Magnitude,
		Timestamp: time.Now().UnixMilli(),
	}
}

// StateMessage is the retained per-device state published to
// beobridge/state/mozart/{jid}.
type StateMessage struct {
	JID       string      `json:"jid"`
	State     DeviceState `json:"state"`
	Timestamp int64       `json:"ts"`
}

// NewStateMessage builds a state payload.
func NewStateMessage(jid string, state DeviceState) StateMessage {
	return StateMessage{
		JID:       jid,
		State:     state,
		Timestamp: time.Now().UnixMilli(),
	}
}

// AvailabilityMessage is the retained availability flag published to
// beobridge/availability/mozart/{jid}.
type AvailabilityMessage struct {
	JID       string `json:"jid"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"ts"`
}

// NewAvailabilityMessage builds an availability payload.
func NewAvailabilityMessage(jid string, online bool) AvailabilityMessage {
	return AvailabilityMessage{
		JID:       jid,
		Online:    online,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CommandMessage is a command received on
// beobridge/command/mozart/{jid}.
//
// Command names the operation: one of the leader command kinds
// (set_volume_level, media_play, ...) or a group operation
// (join, expand, unexpand, leave, all_standby).
type CommandMessage struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Group operations accepted on the command topic alongside the leader
// command kinds.
const (
	GroupCommandJoin       = "join"
	GroupCommandExpand     = "expand"
	GroupCommandUnexpand   = "unexpand"
	GroupCommandLeave      = "leave"
	GroupCommandAllStandby = "all_standby"
)

// AckMessage acknowledges a command on beobridge/ack/mozart/{jid}.
type AckMessage struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
	ErrCode   string `json:"err_code,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"ts"`
}

// NewAckMessage builds a success ack.
func NewAckMessage(commandID string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Status:    AckStatusAccepted,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewAckError builds a failure ack with a machine-readable code and a
// human-readable detail.
func NewAckError(commandID, errCode, detail string) AckMessage {
	return AckMessage{
		CommandID: commandID,
		Status:    AckStatusFailed,
		ErrCode:   errCode,
		Error:     detail,
		Timestamp: time.Now().UnixMilli(),
	}
}

// DeviceHealth summarises one device inside a health report.
type DeviceHealth struct {
	JID        string `json:"jid"`
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
	FramesRx   uint64 `json:"frames_rx"`
	Malformed  uint64 `json:"malformed"`
}

// Health statuses.
const (
	HealthStarting = "starting"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStopping = "stopping"
	HealthOffline  = "offline" // LWT only
)

// HealthMessage is the periodic bridge health report published to
// beobridge/health.
type HealthMessage struct {
	BridgeID      string         `json:"bridge_id"`
	Version       string         `json:"version"`
	Status        string         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Devices       []DeviceHealth `json:"devices"`
	Timestamp     int64          `json:"ts"`
}

// NewHealthMessage builds a health report.
func NewHealthMessage(bridgeID, version, status string, devices []DeviceHealth, startTime time.Time) HealthMessage {
	return HealthMessage{
		BridgeID:      bridgeID,
		Version:       version,
		Status:        status,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Devices:       devices,
		Timestamp:     time.Now().UnixMilli(),
	}
}

// NewLWTMessage builds the Last Will payload registered with the
// broker, delivered if the bridge dies without a clean shutdown.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		BridgeID:  bridgeID,
		Status:    HealthOffline,
		Reason:    "connection lost",
		Timestamp: time.Now().UnixMilli(),
	}
}
