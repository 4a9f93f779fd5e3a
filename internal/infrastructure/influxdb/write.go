package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteVolumeMetric records a device volume change.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - jid: Mozart device JID
//   - level: Volume level (0-100)
//   - muted: Current mute state
func (c *Client) WriteVolumeMetric(jid string, level int, muted bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"volume",
		map[string]string{
			"jid": jid,
		},
		map[string]interface{}{
			"level": level,
			"muted": muted,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePlaybackMetric records playback progress for a device.
//
// Parameters:
//   - jid: Mozart device JID
//   - source: Active source identifier (e.g. "spotify", "lineIn")
//   - state: Playback state (e.g. "playing", "paused")
//   - progressSeconds: Position within the current track
func (c *Client) WritePlaybackMetric(jid string, source string, state string, progressSeconds int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"playback",
		map[string]string{
			"jid":    jid,
			"source": source,
		},
		map[string]interface{}{
			"state":            state,
			"progress_seconds": progressSeconds,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBatteryMetric records battery state for portable devices.
//
// Parameters:
//   - jid: Mozart device JID
//   - levelPercent: Remaining charge (0-100)
//   - charging: Whether the device is on charge
func (c *Client) WriteBatteryMetric(jid string, levelPercent int, charging bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"battery",
		map[string]string{
			"jid": jid,
		},
		map[string]interface{}{
			"level_percent": levelPercent,
			"charging":      charging,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionMetric records websocket connection statistics for a device.
//
// Used for tracking link stability across reconnect cycles.
//
// Parameters:
//   - jid: Mozart device JID
//   - connected: Current connection state
//   - reconnects: Cumulative reconnect count since startup
func (c *Client) WriteConnectionMetric(jid string, connected bool, reconnects uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection",
		map[string]string{
			"jid": jid,
		},
		map[string]interface{}{
			"connected":  connected,
			"reconnects": reconnects,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g. delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
