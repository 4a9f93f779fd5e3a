package mozart

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// DispatcherStats holds frame routing statistics.
type DispatcherStats struct {
	Dispatched uint64 // Frames decoded and delivered to a handler
	Malformed  uint64 // Frames dropped: bad JSON, missing type, bad payload
	Unrouted   uint64 // Well-formed frames with no registered handler
}

// Dispatcher demultiplexes websocket notification frames by their type
// discriminator and routes each to the registered handler for that type.
//
// Malformed frames (invalid JSON, unknown or missing type, payload that
// does not decode) are counted and dropped; the stream continues.
// Handlers for a single device are invoked sequentially in arrival
// order, so per-control ordering is preserved.
//
// Thread Safety:
//   - Handler registration and Dispatch are safe for concurrent use.
//   - Handlers themselves run on the transport's frame goroutine.
type Dispatcher struct {
	handlers map[string]func(json.RawMessage) error
	mu       sync.RWMutex

	dispatched atomic.Uint64
	malformed  atomic.Uint64
	unrouted   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDispatcher creates a dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]func(json.RawMessage) error),
	}
}

// on registers a typed handler for one notification type. The raw data
// payload is decoded into T before the handler runs; decode failures
// count as malformed frames.
func on[T any](d *Dispatcher, notificationType string, handler func(T)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[notificationType] = func(data json.RawMessage) error {
		v, err := decodeNotification[T](data)
		if err != nil {
			return err
		}
		handler(v)
		return nil
	}
}

// OnButton registers a handler for button press/release notifications.
func (d *Dispatcher) OnButton(handler func(ButtonNotification)) {
	on(d, NotificationButton, handler)
}

// OnBeoRemoteButton registers a handler for remote key and wheel events.
func (d *Dispatcher) OnBeoRemoteButton(handler func(BeoRemoteButtonNotification)) {
	on(d, NotificationBeoRemoteButton, handler)
}

// OnVolume registers a handler for volume notifications.
func (d *Dispatcher) OnVolume(handler func(VolumeNotification)) {
	on(d, NotificationVolume, handler)
}

// OnPlaybackState registers a handler for rendering state notifications.
func (d *Dispatcher) OnPlaybackState(handler func(PlaybackStateNotification)) {
	on(d, NotificationPlaybackState, handler)
}

// OnPlaybackProgress registers a handler for track progress notifications.
func (d *Dispatcher) OnPlaybackProgress(handler func(PlaybackProgressNotification)) {
	on(d, NotificationPlaybackProgress, handler)
}

// OnPlaybackMetadata registers a handler for track metadata notifications.
func (d *Dispatcher) OnPlaybackMetadata(handler func(PlaybackMetadataNotification)) {
	on(d, NotificationPlaybackMetadata, handler)
}

// OnPlaybackError registers a handler for rendering failures.
func (d *Dispatcher) OnPlaybackError(handler func(PlaybackErrorNotification)) {
	on(d, NotificationPlaybackError, handler)
}

// OnSourceChange registers a handler for active source notifications.
func (d *Dispatcher) OnSourceChange(handler func(SourceChangeNotification)) {
	on(d, NotificationSourceChange, handler)
}

// OnBattery registers a handler for battery notifications.
func (d *Dispatcher) OnBattery(handler func(BatteryNotification)) {
	on(d, NotificationBattery, handler)
}

// OnPowerState registers a handler for power state notifications.
func (d *Dispatcher) OnPowerState(handler func(PowerStateNotification)) {
	on(d, NotificationPowerState, handler)
}

// OnSoftwareUpdateState registers a handler for firmware update notifications.
func (d *Dispatcher) OnSoftwareUpdateState(handler func(SoftwareUpdateStateNotification)) {
	on(d, NotificationSoftwareUpdateState, handler)
}

// OnSoundSettings registers a handler for tone adjustment notifications.
func (d *Dispatcher) OnSoundSettings(handler func(SoundSettingsNotification)) {
	on(d, NotificationSoundSettings, handler)
}

// OnActiveListeningMode registers a handler for listening mode notifications.
func (d *Dispatcher) OnActiveListeningMode(handler func(ActiveListeningModeNotification)) {
	on(d, NotificationActiveListeningMode, handler)
}

// OnBeolink registers a handler for Beolink topology notifications.
func (d *Dispatcher) OnBeolink(handler func(BeolinkNotification)) {
	on(d, NotificationBeolink, handler)
}

// OnRole registers a handler for role notifications.
func (d *Dispatcher) OnRole(handler func(RoleNotification)) {
	on(d, NotificationRole, handler)
}

// Dispatch decodes one raw frame and routes it to the handler for its
// type. Errors are absorbed here: malformed frames increment the
// malformed counter, frames with no handler increment unrouted. The
// caller's read loop never stops because of frame content.
func (d *Dispatcher) Dispatch(frame []byte) {
	var env notificationFrame
	if err := json.Unmarshal(frame, &env); err != nil {
		d.malformed.Add(1)
		d.logDebug("dropping undecodable frame", "error", err)
		return
	}
	if env.Type == "" {
		d.malformed.Add(1)
		d.logDebug("dropping frame without type discriminator")
		return
	}

	d.mu.RLock()
	handler, ok := d.handlers[env.Type]
	d.mu.RUnlock()

	if !ok {
		d.unrouted.Add(1)
		return
	}

	if err := handler(env.Data); err != nil {
		d.malformed.Add(1)
		d.logDebug("dropping frame with undecodable payload",
			"type", env.Type, "error", err)
		return
	}

	d.dispatched.Add(1)
}

// Stats returns current routing statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Dispatched: d.dispatched.Load(),
		Malformed:  d.malformed.Load(),
		Unrouted:   d.unrouted.Load(),
	}
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	d.loggerMu.RLock()
	logger := d.logger
	d.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
