package mozart

import (
	"encoding/json"
	"fmt"
)

// Notification types carried in the websocket frame's type discriminator.
// These match the Mozart wire protocol event names.
const (
	NotificationActiveListeningMode = "active_listening_mode"
	NotificationBattery             = "battery"
	NotificationBeoRemoteButton     = "beo_remote_button"
	NotificationBeolink             = "beolink"
	NotificationButton              = "button"
	NotificationCurtains            = "curtains"
	NotificationPlaybackError       = "playback_error"
	NotificationPlaybackMetadata    = "playback_metadata"
	NotificationPlaybackProgress    = "playback_progress"
	NotificationPlaybackSource      = "playback_source"
	NotificationPlaybackState       = "playback_state"
	NotificationPowerState          = "power_state"
	NotificationRole                = "role"
	NotificationSoftwareUpdateState = "software_update_state"
	NotificationSoundSettings       = "sound_settings"
	NotificationSourceChange        = "source_change"
	NotificationStateChange         = "state_change"
	NotificationVolume              = "volume"
)

// notificationFrame is the outer envelope of every websocket frame.
// The type field selects the shape of data.
type notificationFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Button states on the wire.
const (
	ButtonStatePressed  = "pressed"
	ButtonStateReleased = "released"
)

// ButtonNotification is a raw press or release of a physical control.
// Control names: Bluetooth, Microphone, Next, PlayPause, Preset1..Preset4,
// Previous, Volume.
type ButtonNotification struct {
	Button string `json:"button"`
	State  string `json:"state"`
}

// BeoRemoteButtonNotification carries remote control key events.
// Wheel detents ride on these frames with Type "rotate" and a signed
// Counter; key events use Type "KeyPress"/"KeyRelease".
type BeoRemoteButtonNotification struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Counter int    `json:"counter,omitempty"`
}

// Beo remote button event types.
const (
	RemoteEventKeyPress   = "KeyPress"
	RemoteEventKeyRelease = "KeyRelease"
	RemoteEventRotate     = "rotate"
)

// VolumeNotification reports the device volume state.
type VolumeNotification struct {
	Level struct {
		Level int `json:"level"`
	} `json:"level"`
	Muted struct {
		Muted bool `json:"muted"`
	} `json:"muted"`
}

// PlaybackStateNotification reports the rendering state
// (e.g. "started", "playing", "paused", "stopped").
type PlaybackStateNotification struct {
	Value string `json:"value"`
}

// PlaybackProgressNotification reports position within the current track.
type PlaybackProgressNotification struct {
	PlayedDuration int `json:"playedDuration"`
	TotalDuration  int `json:"totalDuration"`
}

// PlaybackMetadataNotification describes the current track. RemoteLeader
// is set when this device listens to a Beolink leader; nil means the
// device renders its own source.
type PlaybackMetadataNotification struct {
	Title        string  `json:"title"`
	Artist       string  `json:"artist"`
	AlbumName    string  `json:"albumName"`
	SourceID     string  `json:"sourceId"`
	RemoteLeader *string `json:"remoteLeader"`
}

// PlaybackErrorNotification reports a rendering failure.
type PlaybackErrorNotification struct {
	Error string `json:"error"`
}

// SourceChangeNotification reports the active source.
type SourceChangeNotification struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BatteryNotification reports charge state for portable devices.
type BatteryNotification struct {
	BatteryLevel int  `json:"batteryLevel"`
	IsCharging   bool `json:"isCharging"`
}

// PowerStateNotification reports the device power state
// ("on", "standby", "networkStandby").
type PowerStateNotification struct {
	Value string `json:"value"`
}

// SoftwareUpdateStateNotification reports firmware update progress.
type SoftwareUpdateStateNotification struct {
	SoftwareVersion string `json:"softwareVersion"`
	State           string `json:"state"`
}

// SoundSettingsNotification reports tone adjustments.
type SoundSettingsNotification struct {
	Adjustments struct {
		Bass   int `json:"bass"`
		Treble int `json:"treble"`
	} `json:"adjustments"`
}

// ActiveListeningModeNotification reports the selected listening mode.
type ActiveListeningModeNotification struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RoleNotification reports the device's Beolink role as the device
// sees it ("leader", "listener", "standalone").
type RoleNotification struct {
	Value string `json:"value"`
}

// Beolink sub-notification kinds.
const (
	BeolinkSubListeners          = "listeners"
	BeolinkSubPeers              = "peers"
	BeolinkSubAvailableListeners = "availableListeners"
)

// BeolinkNotification carries session topology updates. SubType selects
// which fields are populated: listeners updates carry Leader and
// Listeners; peers updates carry Peers.
type BeolinkNotification struct {
	SubType   string        `json:"subType"`
	Leader    string        `json:"leader,omitempty"`
	Listeners []string      `json:"listeners,omitempty"`
	Peers     []BeolinkPeer `json:"peers,omitempty"`
}

// BeolinkPeer is one discoverable Beolink device on the network.
type BeolinkPeer struct {
	JID          string `json:"jid"`
	FriendlyName string `json:"friendlyName"`
	IPAddress    string `json:"ipAddress"`
}

// decodeNotification unmarshals a data payload into the given type.
// Failures wrap ErrMalformedNotification so the dispatcher can count
// and drop the frame.
func decodeNotification[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %w", ErrMalformedNotification, err)
	}
	return v, nil
}
