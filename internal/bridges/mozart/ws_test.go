package mozart

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// holdOpen keeps a server-side websocket alive until the peer closes it.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectStreamRequiresHost(t *testing.T) {
	if _, err := ConnectStream(context.Background(), StreamConfig{JID: selfJID}); err == nil {
		t.Fatal("ConnectStream() accepted an empty host")
	}
}

func TestStreamDeliversFramesInOrder(t *testing.T) {
	const total = 500

	start := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		<-start
		for i := 0; i < total; i++ {
			frame := fmt.Sprintf(`{"type":"volume","data":{"level":{"level":%d}}}`, i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		holdOpen(conn)
	}))
	defer srv.Close()

	s, err := ConnectStream(context.Background(), StreamConfig{
		Host: strings.TrimPrefix(srv.URL, "http://"),
		JID:  selfJID,
	})
	if err != nil {
		t.Fatalf("ConnectStream() error = %v", err)
	}
	defer s.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	s.SetOnFrame(func(frame []byte) {
		// A consumer slower than the producer forces the queue to fill
		time.Sleep(time.Millisecond)

		var env struct {
			Data struct {
				Level struct {
					Level int `json:"level"`
				} `json:"level"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Errorf("unmarshal frame: %v", err)
			return
		}
		mu.Lock()
		got = append(got, env.Data.Level.Level)
		if len(got) == total {
			close(done)
		}
		mu.Unlock()
	})
	close(start)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		mu.Lock()
		n := len(got)
		mu.Unlock()
		t.Fatalf("received %d of %d frames", n, total)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d carries sequence %d, frames reordered or lost", i, v)
		}
	}
	if rx := s.Stats().FramesRx; rx != total {
		t.Errorf("FramesRx = %d, want %d", rx, total)
	}
}

func TestConnectStreamRetriesWhenDeviceOff(t *testing.T) {
	// Reserve an address nothing is listening on yet
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	s, err := ConnectStream(context.Background(), StreamConfig{
		Host:              addr,
		JID:               selfJID,
		ConnectTimeout:    time.Second,
		ReconnectInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ConnectStream() error = %v, want a stream in reconnecting state", err)
	}
	defer s.Close()

	var online atomic.Int32
	s.SetOnAvailability(func(available bool) {
		if available {
			online.Add(1)
		}
	})

	if s.IsConnected() {
		t.Fatal("stream reports connected with no device listening")
	}

	// The device comes up on the same address
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen %s: %v", addr, err)
	}
	server := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		holdOpen(conn)
	})}
	go server.Serve(ln)
	defer server.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !s.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("stream never connected after the device came up")
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	if n := online.Load(); n != 1 {
		t.Errorf("availability true fired %d times, want 1", n)
	}
}

func TestStreamCloseWhileReconnecting(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := reserved.Addr().String()
	reserved.Close()

	s, err := ConnectStream(context.Background(), StreamConfig{
		Host:              addr,
		JID:               selfJID,
		ConnectTimeout:    time.Second,
		ReconnectInterval: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("ConnectStream() error = %v", err)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return while the stream was retrying")
	}
}

func TestBridgeDefaultStreamTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frame := []byte(`{"type":"volume","data":{"level":{"level":42},"muted":{"muted":false}}}`)
		for i := 0; i < 200; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	client := NewMockMQTTClient()
	api := newMockDeviceAPI()

	b, err := NewBridge(BridgeOptions{
		BridgeID: "test-bridge",
		Version:  "0.0.0-test",
		MQTT:     client,
		Devices: []DeviceConfig{
			{JID: selfJID, Host: strings.TrimPrefix(srv.URL, "http://"), Name: "Living Room", Model: "Beosound Balance"},
		},
		API:            func(string) DeviceAPI { return api },
		HealthInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	states := waitPublished(t, client, "state/mozart/"+selfJID, 1)
	var msg StateMessage
	if err := json.Unmarshal(states[len(states)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if msg.State.Volume != 42 {
		t.Errorf("state volume = %d, want 42", msg.State.Volume)
	}
}
