package mozart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beotools/beobridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command topic.
	minTopicParts = 4

	// commandTimeout bounds one command execution against a device.
	commandTimeout = 10 * time.Second

	// defaultQoS is the MQTT QoS for bridge traffic.
	defaultQoS = 1

	// publishQueueSize is the buffer for outbound MQTT messages. Emit
	// callbacks run with classifier or coordinator locks held and must
	// not wait on the broker; a full queue drops the message instead.
	publishQueueSize = 256
)

// MQTTClient is the broker connection as the bridge consumes it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricsSink receives telemetry points. Optional; implemented by the
// InfluxDB client.
type MetricsSink interface {
	WriteVolumeMetric(jid string, level int, muted bool)
	WritePlaybackMetric(jid string, source string, state string, progressSeconds int)
	WriteBatteryMetric(jid string, levelPercent int, charging bool)
	WriteConnectionMetric(jid string, connected bool, reconnects uint64)
}

// TransportFactory opens the notification stream for one device.
// Defaults to ConnectStream; tests substitute a mock.
type TransportFactory func(ctx context.Context, cfg StreamConfig) (Transport, error)

// APIFactory builds the command API for a device host.
// Defaults to NewRESTClient.
type APIFactory func(host string) DeviceAPI

// DeviceConfig identifies one managed Mozart device.
type DeviceConfig struct {
	JID   string
	Host  string
	Name  string
	Model string
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge instance. Required.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// MQTT is the broker connection. Required.
	MQTT MQTTClient

	// Devices is the managed device fleet. At least one required.
	Devices []DeviceConfig

	// Logger receives bridge log output. Optional.
	Logger Logger

	// Metrics receives telemetry points. Optional.
	Metrics MetricsSink

	// OnSoftwareVersion is invoked when a device reports its firmware
	// version, so the device registry stays current. Optional.
	OnSoftwareVersion func(jid, version string)

	// Transport opens device streams. Defaults to ConnectStream.
	Transport TransportFactory

	// API builds device command clients. Defaults to NewRESTClient.
	API APIFactory

	// Classification thresholds. Zero values use the defaults.
	LongPressThreshold     time.Duration
	VeryLongPressThreshold time.Duration
	WheelQuietPeriod       time.Duration

	// Connection tuning. Zero values use the defaults.
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration

	// HealthInterval is how often health reports publish.
	HealthInterval time.Duration

	// QoS for bridge traffic. Default 1.
	QoS byte
}

// deviceRuntime is the per-device pipeline: transport, dispatcher,
// classifiers, coordinator, and projected state.
type deviceRuntime struct {
	cfg         DeviceConfig
	transport   Transport
	dispatcher  *Dispatcher
	classifier  *ButtonClassifier
	wheel       *WheelDebouncer
	api         DeviceAPI
	coordinator *Coordinator
	state       stateCache
}

// Bridge connects a fleet of Mozart devices to MQTT.
//
// For each configured device it maintains one websocket stream, routes
// notifications through the dispatcher into the event classifier,
// wheel debouncer, state projection, and group coordinator, and
// publishes events, retained state, and availability. Commands arrive
// on the command topic and are acknowledged on the ack topic.
type Bridge struct {
	opts   BridgeOptions
	topics mqtt.Topics
	qos    byte

	devices map[string]*deviceRuntime
	mu      sync.RWMutex

	health *HealthReporter

	// Outbound MQTT traffic, drained by one publisher goroutine so
	// emit callbacks never block on the broker.
	publishQueue chan outboundMessage
	publisherWg  sync.WaitGroup

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
	started   bool
}

// outboundMessage is one queued MQTT publish.
type outboundMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// NewBridge creates a bridge from the given options.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("%w: bridge ID is required", ErrInvalidParameter)
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidParameter)
	}
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("%w: at least one device is required", ErrInvalidParameter)
	}
	for _, d := range opts.Devices {
		if d.JID == "" || d.Host == "" {
			return nil, fmt.Errorf("%w: device JID and host are required", ErrInvalidParameter)
		}
	}

	if opts.Transport == nil {
		opts.Transport = func(ctx context.Context, cfg StreamConfig) (Transport, error) {
			return ConnectStream(ctx, cfg)
		}
	}
	if opts.API == nil {
		opts.API = func(host string) DeviceAPI {
			return NewRESTClient(host, commandTimeout)
		}
	}

	qos := opts.QoS
	if qos == 0 {
		qos = defaultQoS
	}

	b := &Bridge{
		opts:         opts,
		qos:          qos,
		devices:      make(map[string]*deviceRuntime),
		publishQueue: make(chan outboundMessage, publishQueueSize),
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Devices:   b.deviceHealthSnapshot,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start connects every device stream, subscribes to the command topic,
// and begins health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if b.started {
		return fmt.Errorf("%w: already started", ErrBridgeStopped)
	}
	b.started = true

	b.ctx, b.ctxCancel = context.WithCancel(context.Background())

	b.publisherWg.Add(1)
	go b.publishLoop()

	if err := b.health.PublishStarting(); err != nil {
		b.logWarn("failed to publish starting status", "error", err)
	}

	if err := b.opts.MQTT.Subscribe(b.topics.CommandSubscribe(), b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}

	for _, cfg := range b.opts.Devices {
		rt, err := b.startDevice(ctx, cfg)
		if err != nil {
			// A device that is off at startup is handled by the
			// supervisor once it comes up; a hard config error aborts.
			b.logError("failed to start device", err, "jid", cfg.JID)
			return err
		}

		b.mu.Lock()
		b.devices[cfg.JID] = rt
		b.mu.Unlock()
	}

	b.health.Start(b.ctx)

	b.logInfo("bridge started", "devices", len(b.opts.Devices))
	return nil
}

// startDevice builds and wires one device pipeline.
func (b *Bridge) startDevice(ctx context.Context, cfg DeviceConfig) (*deviceRuntime, error) {
	rt := &deviceRuntime{
		cfg: cfg,
		api: b.opts.API(cfg.Host),
	}

	coordinator, err := NewCoordinator(CoordinatorOptions{
		SelfJID: cfg.JID,
		API:     rt.api,
		Resolve: b.resolveAPI,
		OnTopology: func(role Role) {
			b.handleTopologyChange(rt, role)
		},
		Logger: b.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	rt.coordinator = coordinator

	rt.classifier = NewButtonClassifier(
		b.opts.LongPressThreshold,
		b.opts.VeryLongPressThreshold,
		func(ev ButtonEvent) { b.publishButtonEvent(rt, ev) },
	)

	rt.wheel = NewWheelDebouncer(
		b.opts.WheelQuietPeriod,
		func(ev RotationEvent) { b.publishRotationEvent(rt, ev) },
	)

	rt.dispatcher = b.buildDispatcher(rt)

	transport, err := b.opts.Transport(ctx, StreamConfig{
		Host:              cfg.Host,
		JID:               cfg.JID,
		ConnectTimeout:    b.opts.ConnectTimeout,
		ReconnectInterval: b.opts.ReconnectInterval,
		Logger:            b.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.JID, err)
	}
	rt.transport = transport

	transport.SetOnFrame(rt.dispatcher.Dispatch)
	transport.SetOnAvailability(func(available bool) {
		b.handleAvailability(rt, available)
	})

	// Seed the retained availability topic; a stream that connected
	// before the callback was registered reports online here.
	b.handleAvailability(rt, transport.IsConnected())

	return rt, nil
}

// buildDispatcher registers all notification handlers for one device.
func (b *Bridge) buildDispatcher(rt *deviceRuntime) *Dispatcher {
	d := NewDispatcher()
	if b.opts.Logger != nil {
		d.SetLogger(b.opts.Logger)
	}

	d.OnButton(func(n ButtonNotification) {
		switch n.State {
		case ButtonStatePressed:
			rt.classifier.Press(n.Button)
		case ButtonStateReleased:
			rt.classifier.Release(n.Button)
		}
	})

	d.OnBeoRemoteButton(func(n BeoRemoteButtonNotification) {
		switch n.Type {
		case RemoteEventKeyPress:
			rt.classifier.Press(n.Key)
		case RemoteEventKeyRelease:
			rt.classifier.Release(n.Key)
		case RemoteEventRotate:
			rt.wheel.Tick(n.Key, n.Counter)
		}
	})

	d.OnVolume(func(n VolumeNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.Volume = n.Level.Level
			s.Muted = n.Muted.Muted
		})
		if b.opts.Metrics != nil {
			b.opts.Metrics.WriteVolumeMetric(rt.cfg.JID, n.Level.Level, n.Muted.Muted)
		}
	})

	d.OnPlaybackState(func(n PlaybackStateNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.PlaybackState = n.Value
		})
		b.writePlaybackMetric(rt)
	})

	d.OnPlaybackProgress(func(n PlaybackProgressNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.ProgressSeconds = n.PlayedDuration
			s.DurationSeconds = n.TotalDuration
		})
	})

	d.OnPlaybackMetadata(func(n PlaybackMetadataNotification) {
		rt.coordinator.HandlePlaybackMetadata(n)
		b.projectState(rt, func(s *DeviceState) {
			s.Title = n.Title
			s.Artist = n.Artist
			s.Album = n.AlbumName
		})
	})

	d.OnPlaybackError(func(n PlaybackErrorNotification) {
		b.logWarn("playback error", "jid", rt.cfg.JID, "error", n.Error)
	})

	d.OnSourceChange(func(n SourceChangeNotification) {
		rt.coordinator.HandleSourceChange(n)
		if IsHiddenSource(n.ID) {
			return // Internal source, not projected
		}
		b.projectState(rt, func(s *DeviceState) {
			s.Source = n.ID
			s.SourceName = n.Name
		})
	})

	d.OnBattery(func(n BatteryNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.BatteryLevel = n.BatteryLevel
			s.BatteryCharging = n.IsCharging
		})
		if b.opts.Metrics != nil {
			b.opts.Metrics.WriteBatteryMetric(rt.cfg.JID, n.BatteryLevel, n.IsCharging)
		}
	})

	d.OnPowerState(func(n PowerStateNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.PowerState = n.Value
		})
	})

	d.OnSoftwareUpdateState(func(n SoftwareUpdateStateNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.SoftwareVersion = n.SoftwareVersion
			s.UpdateState = n.State
		})
		if b.opts.OnSoftwareVersion != nil && n.SoftwareVersion != "" {
			b.opts.OnSoftwareVersion(rt.cfg.JID, n.SoftwareVersion)
		}
	})

	d.OnSoundSettings(func(n SoundSettingsNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.Bass = n.Adjustments.Bass
			s.Treble = n.Adjustments.Treble
		})
	})

	d.OnActiveListeningMode(func(n ActiveListeningModeNotification) {
		b.projectState(rt, func(s *DeviceState) {
			s.ListeningMode = n.Name
		})
	})

	d.OnRole(rt.coordinator.HandleRole)

	d.OnBeolink(rt.coordinator.HandleBeolink)

	return d
}

// publishLoop drains the outbound queue onto the broker. A single
// consumer keeps per-device message order.
func (b *Bridge) publishLoop() {
	defer b.publisherWg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case m := <-b.publishQueue:
			if err := b.opts.MQTT.Publish(m.topic, m.payload, b.qos, m.retained); err != nil {
				b.logError("failed to publish", err, "topic", m.topic)
			}
		}
	}
}

// enqueuePublish hands one message to the publisher goroutine. Never
// blocks: callers hold classification or coordinator locks, so a full
// queue drops the message rather than stalling the event pipeline.
func (b *Bridge) enqueuePublish(topic string, payload []byte, retained bool) {
	select {
	case b.publishQueue <- outboundMessage{topic: topic, payload: payload, retained: retained}:
	default:
		b.logWarn("publish queue full, dropping message", "topic", topic)
	}
}

// handleTopologyChange projects a role change into device state.
func (b *Bridge) handleTopologyChange(rt *deviceRuntime, role Role) {
	b.projectState(rt, func(s *DeviceState) {
		s.Role = role.Kind.String()
		s.Leader = role.Leader
		s.ListenerCount = len(role.Listeners)
	})
}

// handleAvailability publishes one availability transition and resets
// classification state on loss so no stale timers fire.
func (b *Bridge) handleAvailability(rt *deviceRuntime, available bool) {
	if !available {
		rt.classifier.Reset()
		rt.wheel.Reset()
	}

	msg := NewAvailabilityMessage(rt.cfg.JID, available)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode availability", err, "jid", rt.cfg.JID)
		return
	}

	b.enqueuePublish(b.topics.DeviceAvailability(rt.cfg.JID), payload, true)

	if b.opts.Metrics != nil {
		stats := rt.transport.Stats()
		b.opts.Metrics.WriteConnectionMetric(rt.cfg.JID, available, stats.ReconnectsTotal)
	}
}

// projectState applies a state mutation and publishes retained state
// when anything changed.
func (b *Bridge) projectState(rt *deviceRuntime, fn func(*DeviceState)) {
	state, changed := rt.state.update(fn)
	if !changed {
		return
	}

	msg := NewStateMessage(rt.cfg.JID, state)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode state", err, "jid", rt.cfg.JID)
		return
	}

	b.enqueuePublish(b.topics.DeviceState(rt.cfg.JID), payload, true)
}

func (b *Bridge) writePlaybackMetric(rt *deviceRuntime) {
	if b.opts.Metrics == nil {
		return
	}
	s := rt.state.snapshot()
	b.opts.Metrics.WritePlaybackMetric(rt.cfg.JID, s.Source, s.PlaybackState, s.ProgressSeconds)
}

// publishButtonEvent publishes one classified button event.
func (b *Bridge) publishButtonEvent(rt *deviceRuntime, ev ButtonEvent) {
	b.publishEvent(rt, NewButtonEventMessage(rt.cfg.JID, ev), ev.Control)
}

// publishRotationEvent publishes one settled wheel gesture.
func (b *Bridge) publishRotationEvent(rt *deviceRuntime, ev RotationEvent) {
	b.publishEvent(rt, NewRotationEventMessage(rt.cfg.JID, ev), ev.Control)
}

func (b *Bridge) publishEvent(rt *deviceRuntime, msg EventMessage, control string) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode event", err, "jid", rt.cfg.JID)
		return
	}

	b.enqueuePublish(b.topics.DeviceEvent(rt.cfg.JID, control), payload, false)
}

// handleCommand processes one message from the command topic.
// Topic shape: beobridge/command/mozart/{jid}.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logWarn("command on malformed topic", "topic", topic)
		return nil
	}
	jid := parts[len(parts)-1]

	b.mu.RLock()
	rt, ok := b.devices[jid]
	b.mu.RUnlock()

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logWarn("undecodable command payload", "topic", topic, "error", err)
		return nil
	}

	if !ok {
		b.publishAckError(jid, cmd.ID, ErrCodeInvalidTarget,
			fmt.Sprintf("unknown device %s", jid))
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.executeCommand(ctx, rt, cmd); err != nil {
		b.publishAckError(jid, cmd.ID, errCodeFor(err), err.Error())
		return nil
	}

	b.publishAck(jid, cmd.ID)
	return nil
}

// executeCommand routes a command to the group operation or leader
// command it names.
func (b *Bridge) executeCommand(ctx context.Context, rt *deviceRuntime, cmd CommandMessage) error {
	switch cmd.Command {
	case GroupCommandJoin:
		target, _ := cmd.Params["target"].(string)
		source, _ := cmd.Params["source"].(string)
		return rt.coordinator.Join(ctx, target, source)

	case GroupCommandExpand:
		all, _ := cmd.Params["all_discovered"].(bool)
		jids, err := stringSliceParam(cmd.Params["jids"])
		if err != nil {
			return err
		}
		return rt.coordinator.Expand(ctx, jids, all)

	case GroupCommandUnexpand:
		jids, err := stringSliceParam(cmd.Params["jids"])
		if err != nil {
			return err
		}
		return rt.coordinator.Unexpand(ctx, jids)

	case GroupCommandLeave:
		return rt.coordinator.Leave(ctx)

	case GroupCommandAllStandby:
		return rt.coordinator.AllStandby(ctx)

	default:
		return rt.coordinator.LeaderCommand(ctx, cmd.Command, cmd.Params["value"])
	}
}

// stringSliceParam coerces a decoded JSON array into []string.
func stringSliceParam(param any) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%w: jids parameter is required", ErrInvalidParameter)
	}
	raw, ok := param.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: jids must be an array of strings", ErrInvalidParameter)
	}

	jids := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: jids must be an array of strings", ErrInvalidParameter)
		}
		jids = append(jids, s)
	}
	return jids, nil
}

// errCodeFor maps an operation error onto an ack error code.
func errCodeFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrInvalidGroupingTarget):
		return ErrCodeInvalidTarget
	case errors.Is(err, ErrNotALeader):
		return ErrCodeNotALeader
	case errors.Is(err, ErrNotConnected):
		return ErrCodeDeviceUnavailable
	case errors.Is(err, ErrRemoteCommandFailed):
		return ErrCodeRemoteFailed
	default:
		return ErrCodeInternalError
	}
}

// publishAck publishes a success ack.
func (b *Bridge) publishAck(jid, commandID string) {
	b.publishAckMessage(jid, NewAckMessage(commandID))
}

// publishAckError publishes a failure ack.
func (b *Bridge) publishAckError(jid, commandID, errCode, detail string) {
	b.publishAckMessage(jid, NewAckError(commandID, errCode, detail))
}

func (b *Bridge) publishAckMessage(jid string, msg AckMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to encode ack", err, "jid", jid)
		return
	}

	b.enqueuePublish(b.topics.DeviceAck(jid), payload, false)
}

// UpdatePeers pushes a discovered peer set to every device coordinator.
// Called by mDNS discovery.
func (b *Bridge) UpdatePeers(peers []Peer) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, rt := range b.devices {
		rt.coordinator.SetPeers(peers)
	}
}

// DeviceState returns the projected state for one device.
func (b *Bridge) DeviceState(jid string) (DeviceState, bool) {
	b.mu.RLock()
	rt, ok := b.devices[jid]
	b.mu.RUnlock()

	if !ok {
		return DeviceState{}, false
	}
	return rt.state.snapshot(), true
}

// DeviceRole returns the Beolink role for one device.
func (b *Bridge) DeviceRole(jid string) (Role, bool) {
	b.mu.RLock()
	rt, ok := b.devices[jid]
	b.mu.RUnlock()

	if !ok {
		return Role{}, false
	}
	return rt.coordinator.Role(), true
}

// deviceHealthSnapshot assembles per-device health for reports.
func (b *Bridge) deviceHealthSnapshot() []DeviceHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()

	devices := make([]DeviceHealth, 0, len(b.devices))
	for jid, rt := range b.devices {
		streamStats := rt.transport.Stats()
		dispatchStats := rt.dispatcher.Stats()
		devices = append(devices, DeviceHealth{
			JID:        jid,
			Connected:  streamStats.Connected,
			Reconnects: streamStats.ReconnectsTotal,
			FramesRx:   streamStats.FramesRx,
			Malformed:  dispatchStats.Malformed,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].JID < devices[j].JID })
	return devices
}

// resolveAPI returns the command API for a managed device by JID.
// Used by coordinators to reach remote leaders.
func (b *Bridge) resolveAPI(jid string) (DeviceAPI, error) {
	b.mu.RLock()
	rt, ok := b.devices[jid]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("device %s is not managed by this bridge", jid)
	}
	return rt.api, nil
}

// Stop shuts the bridge down: health reporting stops, every device
// stream closes, pending timers are cancelled.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.ctxCancel != nil {
			b.ctxCancel()
		}

		b.health.Stop()

		b.mu.Lock()
		for jid, rt := range b.devices {
			rt.classifier.Reset()
			rt.wheel.Reset()
			if err := rt.transport.Close(); err != nil {
				b.logError("failed to close stream", err, "jid", jid)
			}
		}
		b.mu.Unlock()

		b.publisherWg.Wait()

		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
