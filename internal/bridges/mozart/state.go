package mozart

import "sync"

// DeviceState is the projected state of one Mozart device, assembled
// from notifications and published retained on the state topic.
type DeviceState struct {
	Volume          int    `json:"volume"`
	Muted           bool   `json:"muted"`
	Bass            int    `json:"bass"`
	Treble          int    `json:"treble"`
	Source          string `json:"source,omitempty"`
	SourceName      string `json:"source_name,omitempty"`
	ListeningMode   string `json:"listening_mode,omitempty"`
	PlaybackState   string `json:"playback_state,omitempty"`
	Title           string `json:"title,omitempty"`
	Artist          string `json:"artist,omitempty"`
	Album           string `json:"album,omitempty"`
	ProgressSeconds int    `json:"progress_seconds"`
	DurationSeconds int    `json:"duration_seconds"`
	PowerState      string `json:"power_state,omitempty"`
	BatteryLevel    int    `json:"battery_level,omitempty"`
	BatteryCharging bool   `json:"battery_charging,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
	UpdateState     string `json:"update_state,omitempty"`
	Role            string `json:"role"`
	Leader          string `json:"leader,omitempty"`
	ListenerCount   int    `json:"listener_count"`
}

// stateCache holds the last projected state for one device and detects
// changes so unchanged notifications don't republish.
type stateCache struct {
	mu    sync.Mutex
	state DeviceState
}

// update applies fn to the cached state and reports whether anything
// changed, returning the new snapshot.
func (c *stateCache) update(fn func(*DeviceState)) (DeviceState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.state
	fn(&c.state)
	return c.state, c.state != before
}

// snapshot returns the current state.
func (c *stateCache) snapshot() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
