package mozart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beotools/beobridge/internal/infrastructure/mqtt"
)

// publishedMessage captures one Publish call.
type publishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// MockMQTTClient records publishes and subscriptions for assertion.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]func(topic string, payload []byte) error
	connected bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		handlers:  make(map[string]func(topic string, payload []byte) error),
		connected: true,
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// GetPublished returns all messages published to topics containing
// substr. Empty substr returns everything.
func (m *MockMQTTClient) GetPublished(substr string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []publishedMessage
	for _, p := range m.published {
		if substr == "" || strings.Contains(p.Topic, substr) {
			out = append(out, p)
		}
	}
	return out
}

// Handler returns the registered handler for a subscription topic.
func (m *MockMQTTClient) Handler(topic string) func(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

// slowMQTTClient delays every publish, standing in for a laggy broker.
type slowMQTTClient struct {
	*MockMQTTClient
	delay time.Duration
}

func (s *slowMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	time.Sleep(s.delay)
	return s.MockMQTTClient.Publish(topic, payload, qos, retained)
}

// waitPublished polls until at least n messages have been published to
// topics containing substr. Outbound traffic flows through the bridge's
// publisher goroutine, so assertions wait for it to drain.
func waitPublished(t *testing.T, client *MockMQTTClient, substr string, n int) []publishedMessage {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := client.GetPublished(substr)
		if len(msgs) >= n {
			return msgs
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages on %q, have %d", n, substr, len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// mockTransport drives frames and availability transitions into the
// bridge the way a live stream would.
type mockTransport struct {
	mu             sync.Mutex
	onFrame        func(frame []byte)
	onAvailability func(available bool)
	connected      bool
	closed         bool
	stats          StreamStats
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (t *mockTransport) SetOnFrame(callback func(frame []byte)) {
	t.mu.Lock()
	t.onFrame = callback
	t.mu.Unlock()
}

func (t *mockTransport) SetOnAvailability(callback func(available bool)) {
	t.mu.Lock()
	t.onAvailability = callback
	t.mu.Unlock()
}

func (t *mockTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *mockTransport) Stats() StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func (t *mockTransport) HealthCheck(context.Context) error { return nil }

func (t *mockTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *mockTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// SimulateFrame delivers one raw frame to the bridge dispatcher.
func (t *mockTransport) SimulateFrame(frame []byte) {
	t.mu.Lock()
	cb := t.onFrame
	t.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// SimulateAvailability fires an availability transition.
func (t *mockTransport) SimulateAvailability(available bool) {
	t.mu.Lock()
	t.connected = available
	cb := t.onAvailability
	t.mu.Unlock()
	if cb != nil {
		cb(available)
	}
}

// frameJSON builds a notification frame for tests.
func frameJSON(t *testing.T, typ string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	frame, err := json.Marshal(map[string]json.RawMessage{
		"type": json.RawMessage(fmt.Sprintf("%q", typ)),
		"data": raw,
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return frame
}

// testBridge wires a bridge against mocks with short classification
// thresholds so timer-driven tests stay fast.
func testBridge(t *testing.T) (*Bridge, *MockMQTTClient, *mockTransport, *mockDeviceAPI) {
	t.Helper()

	client := NewMockMQTTClient()
	transport := newMockTransport()
	api := newMockDeviceAPI()

	b, err := NewBridge(BridgeOptions{
		BridgeID: "test-bridge",
		Version:  "0.0.0-test",
		MQTT:     client,
		Devices: []DeviceConfig{
			{JID: selfJID, Host: "10.0.0.10", Name: "Living Room", Model: "Beosound Balance"},
		},
		Transport: func(context.Context, StreamConfig) (Transport, error) {
			return transport, nil
		},
		API:                    func(string) DeviceAPI { return api },
		LongPressThreshold:     60 * time.Millisecond,
		VeryLongPressThreshold: 60 * time.Millisecond,
		WheelQuietPeriod:       40 * time.Millisecond,
		HealthInterval:         time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return b, client, transport, api
}

func TestBridgeStartSubscribesCommands(t *testing.T) {
	_, client, _, _ := testBridge(t)

	topics := mqtt.Topics{}
	if client.Handler(topics.CommandSubscribe()) == nil {
		t.Errorf("no handler registered for %s", topics.CommandSubscribe())
	}
	if len(client.GetPublished("health")) == 0 {
		t.Error("expected a health message at startup")
	}
}

func TestButtonFrameBecomesEvents(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationButton,
		ButtonNotification{Button: ControlPlayPause, State: ButtonStatePressed}))
	transport.SimulateFrame(frameJSON(t, NotificationButton,
		ButtonNotification{Button: ControlPlayPause, State: ButtonStateReleased}))

	events := waitPublished(t, client, "event/mozart/"+selfJID+"/"+ControlPlayPause, 3)
	if len(events) != 3 {
		t.Fatalf("got %d events, want key_press, key_release, short_press_release", len(events))
	}

	want := []string{EventKeyPress, EventKeyRelease, EventShortPressRelease}
	for i, p := range events {
		var msg EventMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal event %d: %v", i, err)
		}
		if msg.Event != want[i] {
			t.Errorf("event %d = %q, want %q", i, msg.Event, want[i])
		}
		if msg.JID != selfJID || msg.Control != ControlPlayPause {
			t.Errorf("event %d addressed to %s/%s", i, msg.JID, msg.Control)
		}
		if p.Retained {
			t.Errorf("event %d published retained", i)
		}
	}
}

func TestRotationFrameBecomesOneEvent(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	for _, counter := range []int{1, 1, 1} {
		transport.SimulateFrame(frameJSON(t, NotificationBeoRemoteButton,
			BeoRemoteButtonNotification{Key: ControlWheel, Type: RemoteEventRotate, Counter: counter}))
	}

	time.Sleep(120 * time.Millisecond)

	events := waitPublished(t, client, "event/mozart/"+selfJID+"/"+ControlWheel, 1)
	if len(events) != 1 {
		t.Fatalf("got %d rotation events, want 1", len(events))
	}

	var msg EventMessage
	if err := json.Unmarshal(events[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal rotation event: %v", err)
	}
	if msg.Direction != 1 || msg.Magnitude != 3 {
		t.Errorf("rotation = direction %d magnitude %d, want 1/3", msg.Direction, msg.Magnitude)
	}
}

func TestVolumeFrameProjectsRetainedState(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	var n VolumeNotification
	n.Level.Level = 42
	n.Muted.Muted = false
	transport.SimulateFrame(frameJSON(t, NotificationVolume, n))

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	if len(states) != 1 {
		t.Fatalf("got %d state messages, want 1", len(states))
	}
	if !states[0].Retained {
		t.Error("state message not retained")
	}

	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.Volume != 42 || msg.State.Muted {
		t.Errorf("state = volume %d muted %v", msg.State.Volume, msg.State.Muted)
	}

	// An identical frame changes nothing and publishes nothing
	transport.SimulateFrame(frameJSON(t, NotificationVolume, n))
	time.Sleep(50 * time.Millisecond)
	if got := len(client.GetPublished("state/mozart/" + selfJID)); got != 1 {
		t.Errorf("unchanged state republished, %d messages", got)
	}
}

func TestHiddenSourceNotProjected(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationSourceChange,
		SourceChangeNotification{ID: SourceBluetooth, Name: "Bluetooth"}))

	time.Sleep(50 * time.Millisecond)
	if got := len(client.GetPublished("state/mozart/" + selfJID)); got != 0 {
		t.Fatalf("hidden source projected, %d state messages", got)
	}

	transport.SimulateFrame(frameJSON(t, NotificationSourceChange,
		SourceChangeNotification{ID: SourceNetRadio, Name: "Radio"}))

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	if len(states) != 1 {
		t.Fatalf("got %d state messages, want 1", len(states))
	}
	var msg StateMessage
	if err := json.Unmarshal(states[0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.Source != SourceNetRadio {
		t.Errorf("state source = %q, want %q", msg.State.Source, SourceNetRadio)
	}
}

func TestMalformedFrameDoesNotBreakDispatch(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateFrame([]byte("not json at all"))
	transport.SimulateFrame([]byte(`{"type":"volume","data":"oops"}`))

	var n VolumeNotification
	n.Level.Level = 10
	transport.SimulateFrame(frameJSON(t, NotificationVolume, n))

	if got := len(waitPublished(t, client, "state/mozart/"+selfJID, 1)); got != 1 {
		t.Errorf("got %d state messages after malformed frames, want 1", got)
	}
}

// sendCommand pushes one message through the subscribed command handler.
func sendCommand(t *testing.T, client *MockMQTTClient, jid string, cmd CommandMessage) {
	t.Helper()

	topics := mqtt.Topics{}
	handler := client.Handler(topics.CommandSubscribe())
	if handler == nil {
		t.Fatal("command handler not registered")
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if err := handler(topics.DeviceCommand(jid), payload); err != nil {
		t.Fatalf("command handler error = %v", err)
	}
}

func lastAck(t *testing.T, client *MockMQTTClient, jid string) AckMessage {
	t.Helper()

	acks := waitPublished(t, client, "ack/mozart/"+jid, 1)

	var msg AckMessage
	if err := json.Unmarshal(acks[len(acks)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return msg
}

func TestCommandJoinAcked(t *testing.T) {
	_, client, _, api := testBridge(t)

	sendCommand(t, client, selfJID, CommandMessage{ID: "cmd-1", Command: GroupCommandJoin})

	ack := lastAck(t, client, selfJID)
	if ack.CommandID != "cmd-1" || ack.Status != AckStatusAccepted {
		t.Errorf("ack = %+v, want accepted cmd-1", ack)
	}

	calls := api.getCalls()
	if len(calls) != 1 || calls[0] != "joinLatest" {
		t.Errorf("api calls = %v, want [joinLatest]", calls)
	}
}

func TestCommandLeaderVolumeAcked(t *testing.T) {
	_, client, _, api := testBridge(t)

	sendCommand(t, client, selfJID, CommandMessage{
		ID:      "cmd-2",
		Command: CommandSetVolumeLevel,
		Params:  map[string]any{"value": 0.5},
	})

	if ack := lastAck(t, client, selfJID); ack.Status != AckStatusAccepted {
		t.Fatalf("ack = %+v, want accepted", ack)
	}

	calls := api.getCalls()
	if len(calls) != 1 || calls[0] != "setVolume(50)" {
		t.Errorf("api calls = %v, want [setVolume(50)]", calls)
	}
}

func TestCommandInvalidParameterAck(t *testing.T) {
	_, client, _, api := testBridge(t)

	sendCommand(t, client, selfJID, CommandMessage{
		ID:      "cmd-3",
		Command: CommandSelectSource,
	})

	ack := lastAck(t, client, selfJID)
	if ack.Status != AckStatusFailed || ack.ErrCode != ErrCodeInvalidParameters {
		t.Errorf("ack = %+v, want failed/%s", ack, ErrCodeInvalidParameters)
	}
	if calls := api.getCalls(); len(calls) != 0 {
		t.Errorf("api calls = %v, want none", calls)
	}
}

func TestCommandUnknownDeviceAck(t *testing.T) {
	_, client, _, _ := testBridge(t)

	sendCommand(t, client, unknownJID, CommandMessage{ID: "cmd-4", Command: GroupCommandLeave})

	ack := lastAck(t, client, unknownJID)
	if ack.Status != AckStatusFailed || ack.ErrCode != ErrCodeInvalidTarget {
		t.Errorf("ack = %+v, want failed/%s", ack, ErrCodeInvalidTarget)
	}
}

func TestCommandExpandNotALeaderAck(t *testing.T) {
	_, client, _, _ := testBridge(t)

	sendCommand(t, client, selfJID, CommandMessage{
		ID:      "cmd-5",
		Command: GroupCommandExpand,
		Params:  map[string]any{"jids": []any{peerJID}},
	})

	ack := lastAck(t, client, selfJID)
	if ack.Status != AckStatusFailed || ack.ErrCode != ErrCodeNotALeader {
		t.Errorf("ack = %+v, want failed/%s", ack, ErrCodeNotALeader)
	}
}

func TestAvailabilityTransitionsPublished(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateAvailability(true)
	transport.SimulateAvailability(false)

	// Start seeds a retained offline message before the transitions
	msgs := waitPublished(t, client, "availability/mozart/"+selfJID, 3)
	if len(msgs) != 3 {
		t.Fatalf("got %d availability messages, want 3", len(msgs))
	}

	for i, online := range []bool{false, true, false} {
		if !msgs[i].Retained {
			t.Errorf("availability message %d not retained", i)
		}
		var msg AvailabilityMessage
		if err := json.Unmarshal(msgs[i].Payload, &msg); err != nil {
			t.Fatalf("unmarshal availability %d: %v", i, err)
		}
		if msg.Online != online || msg.JID != selfJID {
			t.Errorf("availability %d = %+v, want online=%v", i, msg, online)
		}
	}
}

func TestDisconnectResetsPendingTimers(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationButton,
		ButtonNotification{Button: ControlPlayPause, State: ButtonStatePressed}))

	transport.SimulateAvailability(false)

	// Past the long-press threshold; the reset must have cancelled it
	time.Sleep(150 * time.Millisecond)

	for _, p := range client.GetPublished("event/mozart/" + selfJID) {
		var msg EventMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if msg.Event == EventLongPressTimeout {
			t.Error("long press timer fired after disconnect")
		}
	}
}

func TestBeolinkFrameChangesRoleAndState(t *testing.T) {
	b, client, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationBeolink,
		BeolinkNotification{
			SubType:   BeolinkSubListeners,
			Leader:    selfJID,
			Listeners: []string{peerJID},
		}))

	role, ok := b.DeviceRole(selfJID)
	if !ok || role.Kind != RoleLeading {
		t.Fatalf("role = %+v ok=%v, want leading", role, ok)
	}

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	var msg StateMessage
	if err := json.Unmarshal(states[len(states)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.Role != RoleLeading.String() || msg.State.ListenerCount != 1 {
		t.Errorf("state = %+v, want leading with one listener", msg.State)
	}
}

func TestSoundSettingsProjected(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	var n SoundSettingsNotification
	n.Adjustments.Bass = 2
	n.Adjustments.Treble = -1
	transport.SimulateFrame(frameJSON(t, NotificationSoundSettings, n))

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	var msg StateMessage
	if err := json.Unmarshal(states[len(states)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.Bass != 2 || msg.State.Treble != -1 {
		t.Errorf("state = bass %d treble %d, want 2/-1", msg.State.Bass, msg.State.Treble)
	}
}

func TestListeningModeProjected(t *testing.T) {
	_, client, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationActiveListeningMode,
		ActiveListeningModeNotification{ID: 1, Name: "Ambient"}))

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	var msg StateMessage
	if err := json.Unmarshal(states[len(states)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.ListeningMode != "Ambient" {
		t.Errorf("listening mode = %q, want %q", msg.State.ListeningMode, "Ambient")
	}
}

func TestRoleFrameUpdatesRole(t *testing.T) {
	b, _, transport, _ := testBridge(t)

	transport.SimulateFrame(frameJSON(t, NotificationRole, RoleNotification{Value: "listener"}))

	role, ok := b.DeviceRole(selfJID)
	if !ok || role.Kind != RoleListening {
		t.Fatalf("role = %+v ok=%v, want listening", role, ok)
	}

	transport.SimulateFrame(frameJSON(t, NotificationRole, RoleNotification{Value: "standalone"}))

	role, ok = b.DeviceRole(selfJID)
	if !ok || role.Kind != RoleStandalone {
		t.Fatalf("role = %+v ok=%v, want standalone", role, ok)
	}
}

func TestSoftwareUpdateReportsVersion(t *testing.T) {
	client := NewMockMQTTClient()
	transport := newMockTransport()
	api := newMockDeviceAPI()

	var mu sync.Mutex
	var gotJID, gotVersion string

	b, err := NewBridge(BridgeOptions{
		BridgeID: "test-bridge",
		Version:  "0.0.0-test",
		MQTT:     client,
		Devices: []DeviceConfig{
			{JID: selfJID, Host: "10.0.0.10", Name: "Living Room", Model: "Beosound Balance"},
		},
		Transport: func(context.Context, StreamConfig) (Transport, error) {
			return transport, nil
		},
		API: func(string) DeviceAPI { return api },
		OnSoftwareVersion: func(jid, version string) {
			mu.Lock()
			gotJID, gotVersion = jid, version
			mu.Unlock()
		},
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	transport.SimulateFrame(frameJSON(t, NotificationSoftwareUpdateState,
		SoftwareUpdateStateNotification{SoftwareVersion: "9.1.14", State: "idle"}))

	mu.Lock()
	defer mu.Unlock()
	if gotJID != selfJID || gotVersion != "9.1.14" {
		t.Errorf("reported %s/%s, want %s/9.1.14", gotJID, gotVersion, selfJID)
	}
}

func TestSlowBrokerDoesNotDelayClassification(t *testing.T) {
	client := &slowMQTTClient{MockMQTTClient: NewMockMQTTClient(), delay: 100 * time.Millisecond}
	transport := newMockTransport()
	api := newMockDeviceAPI()

	b, err := NewBridge(BridgeOptions{
		BridgeID: "test-bridge",
		Version:  "0.0.0-test",
		MQTT:     client,
		Devices: []DeviceConfig{
			{JID: selfJID, Host: "10.0.0.10", Name: "Living Room", Model: "Beosound Balance"},
		},
		Transport: func(context.Context, StreamConfig) (Transport, error) {
			return transport, nil
		},
		API:                    func(string) DeviceAPI { return api },
		LongPressThreshold:     60 * time.Millisecond,
		VeryLongPressThreshold: 60 * time.Millisecond,
		WheelQuietPeriod:       40 * time.Millisecond,
		HealthInterval:         time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	// A release well under the long-press threshold must classify as a
	// short press even though each broker publish takes longer than the
	// threshold itself.
	transport.SimulateFrame(frameJSON(t, NotificationButton,
		ButtonNotification{Button: ControlPlayPause, State: ButtonStatePressed}))
	time.Sleep(20 * time.Millisecond)
	transport.SimulateFrame(frameJSON(t, NotificationButton,
		ButtonNotification{Button: ControlPlayPause, State: ButtonStateReleased}))

	events := waitPublished(t, client.MockMQTTClient, "event/mozart/"+selfJID+"/"+ControlPlayPause, 3)
	for _, p := range events {
		var msg EventMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if msg.Event == EventLongPressTimeout {
			t.Error("broker latency bled into press classification")
		}
	}
}

func TestStopClosesTransport(t *testing.T) {
	b, _, transport, _ := testBridge(t)

	b.Stop()

	if !transport.isClosed() {
		t.Error("transport not closed by Stop")
	}

	// Stop is idempotent
	b.Stop()
}
