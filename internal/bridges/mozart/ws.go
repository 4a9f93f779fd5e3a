package mozart

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for the device websocket.
const (
	// defaultConnectTimeout is the maximum time to wait for the
	// websocket handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the idle timeout for the notification
	// stream; devices emit keepalive frames well within it.
	defaultReadTimeout = 90 * time.Second

	// defaultReconnectInterval is the initial delay between
	// reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection
	// attempts.
	maxReconnectInterval = 2 * time.Minute

	// notificationPort is the websocket notification port on every
	// Mozart device.
	notificationPort = 9339

	// frameQueueSize is the buffer size for the frame queue. It absorbs
	// bursts; when full the receive loop blocks, applying backpressure
	// to the websocket rather than dropping frames.
	frameQueueSize = 100
)

// StreamConfig holds per-device websocket configuration.
type StreamConfig struct {
	// Host is the device address (IP or hostname). A host without a
	// port uses the standard Mozart notification port.
	Host string

	// JID identifies the device in log output and events.
	JID string

	// ConnectTimeout is the maximum time to wait for the handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection
	// attempts. Default: 5 seconds.
	ReconnectInterval time.Duration

	// Logger receives stream log output. Optional.
	Logger Logger
}

// StreamStats holds operational statistics for one device stream.
type StreamStats struct {
	FramesRx        uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is the device stream as its consumers see it.
// This allows mocking the websocket in tests.
type Transport interface {
	SetOnFrame(callback func(frame []byte))
	SetOnAvailability(callback func(available bool))
	IsConnected() bool
	Stats() StreamStats
	HealthCheck(ctx context.Context) error
	Close() error
}

// Ensure Stream implements Transport.
var _ Transport = (*Stream)(nil)

// Stream owns the persistent websocket to one Mozart device.
//
// Lifecycle: Disconnected, Connecting, Connected, looping with
// exponential backoff on failure or loss; Close moves to a terminal
// stopped state from anywhere and cancels any scheduled reconnect.
//
// Availability:
//   - The availability callback fires exactly once per transition:
//     true when the stream connects, false when it is lost. A failed
//     reconnect attempt between two losses does not re-broadcast.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frame callbacks are invoked sequentially from one consumer
//     goroutine, preserving arrival order.
type Stream struct {
	cfg  StreamConfig
	conn *websocket.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Frame handler callback
	onFrame    func([]byte)
	callbackMu sync.RWMutex

	// Availability callback, fired once per transition
	onAvailability func(bool)
	availMu        sync.RWMutex

	// Frame queue, drained by a single consumer goroutine
	frameQueue chan []byte

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesRx        atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// ConnectStream opens the websocket to a Mozart device and starts the
// receive loop. A device that is off or unreachable is not an error:
// the stream stays in reconnecting state and comes up when the device
// does. The stream reconnects automatically until Close.
func ConnectStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrConnectionLost)
	}

	s := &Stream{
		cfg:        cfg,
		logger:     cfg.Logger,
		done:       newCloseOnce(),
		frameQueue: make(chan []byte, frameQueueSize),
	}
	s.lastActivity.Store(time.Now().Unix())

	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dial(connectCtx)
	if err != nil {
		s.logError("initial dial failed, stream will keep retrying", err)
		s.errorsTotal.Add(1)
	} else {
		s.conn = conn
		s.markConnected()
	}

	s.wg.Add(1)
	go s.frameLoop()

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// notificationURL builds the websocket URL for the configured device.
// A host carrying an explicit port is used verbatim.
func (s *Stream) notificationURL() string {
	host := s.cfg.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = fmt.Sprintf("%s:%d", host, notificationPort)
	}
	u := url.URL{Scheme: "ws", Host: host, Path: "/"}
	return u.String()
}

// dial performs the websocket handshake.
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.cfg.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, s.notificationURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.notificationURL(), err)
	}
	return conn, nil
}

// receiveLoop continuously reads notification frames from the device.
// On connection loss, it automatically attempts reconnection with
// exponential backoff.
func (s *Stream) receiveLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()

		if conn == nil {
			if !s.reconnect() {
				return
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
			s.logError("set read deadline failed", err)
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return // Shutdown requested, exit cleanly
			}

			s.logError("read failed", err)
			s.errorsTotal.Add(1)
			s.handleDisconnect()

			if !s.reconnect() {
				return // Shutdown during reconnection
			}
			continue
		}

		s.handleFrame(frame)
	}
}

// handleFrame queues one raw frame for the consumer goroutine. A full
// queue blocks the receive loop so no well-formed frame is lost and
// arrival order is preserved end to end.
func (s *Stream) handleFrame(frame []byte) {
	s.framesRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	s.callbackMu.RLock()
	hasCallback := s.onFrame != nil
	s.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case s.frameQueue <- frame:
	case <-s.done.Done():
	}
}

// frameLoop is the single consumer of the frame queue. One goroutine
// keeps callback invocation sequential in arrival order.
func (s *Stream) frameLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			s.drainFrameQueue()
			return
		case frame := <-s.frameQueue:
			s.callbackMu.RLock()
			callback := s.onFrame
			s.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							s.logError("frame callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(frame)
				}()
			}
		}
	}
}

// handleDisconnect records connection loss and broadcasts availability
// false exactly once.
func (s *Stream) handleDisconnect() {
	s.connMu.Lock()
	wasConnected := s.connected
	s.connected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	if wasConnected {
		s.logInfo("connection lost, will attempt reconnection", "jid", s.cfg.JID)
		s.broadcastAvailability(false)
	}
}

// markConnected records a live connection and broadcasts availability
// true exactly once.
func (s *Stream) markConnected() {
	s.connMu.Lock()
	wasConnected := s.connected
	s.connected = true
	s.connMu.Unlock()

	if !wasConnected {
		s.broadcastAvailability(true)
	}
}

// reconnect attempts to re-establish the websocket with exponential
// backoff. Returns true if reconnection succeeded, false if shutdown
// was signalled.
func (s *Stream) reconnect() bool {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return s.waitForReconnection()
	}
	defer s.reconnecting.Store(false)

	backoff := s.cfg.ReconnectInterval

	for {
		if s.isClosed() {
			return false
		}

		attempt := s.reconnectCount.Add(1)
		s.logInfo("attempting reconnection",
			"jid", s.cfg.JID, "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		conn, err := s.dial(ctx)
		cancel()

		if err != nil {
			backoff = s.handleReconnectFailure(err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (s *Stream) waitForReconnection() bool {
	for s.reconnecting.Load() && !s.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !s.isClosed() && s.IsConnected()
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (s *Stream) handleReconnectFailure(err error, backoff time.Duration) time.Duration {
	s.logError("reconnect: dial failed", err)
	s.errorsTotal.Add(1)

	select {
	case <-s.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection marks the connection as established and updates stats.
func (s *Stream) finalizeReconnection() {
	s.markConnected()

	s.reconnectCount.Store(0)
	s.reconnectsTotal.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	s.logInfo("reconnection successful",
		"jid", s.cfg.JID, "total_reconnects", s.reconnectsTotal.Load())
}

// broadcastAvailability fires the availability callback.
// Callers guarantee one invocation per transition.
func (s *Stream) broadcastAvailability(available bool) {
	s.availMu.RLock()
	callback := s.onAvailability
	s.availMu.RUnlock()

	if callback != nil {
		callback(available)
	}
}

// drainFrameQueue removes and discards any remaining queued frames.
// Called during shutdown to prevent goroutines from blocking on send.
func (s *Stream) drainFrameQueue() {
	for {
		select {
		case <-s.frameQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// isClosed returns true if the stream has been closed.
func (s *Stream) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the stream.
//
// It signals the receive loop to stop, cancels any scheduled reconnect,
// and closes the websocket. Safe to call multiple times.
func (s *Stream) Close() error {
	s.done.Close()

	s.connMu.Lock()
	s.connected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.wg.Wait()

	s.logInfo("stream closed", "jid", s.cfg.JID)
	return nil
}

// SetOnFrame sets the callback for received notification frames.
//
// The callback is invoked sequentially from one consumer goroutine in
// frame arrival order. Panics in the callback are recovered and logged.
func (s *Stream) SetOnFrame(callback func(frame []byte)) {
	s.callbackMu.Lock()
	s.onFrame = callback
	s.callbackMu.Unlock()
}

// SetOnAvailability sets the callback for availability transitions.
// It fires exactly once per transition, never duplicated.
func (s *Stream) SetOnAvailability(callback func(available bool)) {
	s.availMu.Lock()
	s.onAvailability = callback
	s.availMu.Unlock()
}

// SetLogger sets the logger for this stream.
func (s *Stream) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// IsConnected returns true if the websocket is established.
func (s *Stream) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

// Stats returns current operational statistics.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		FramesRx:        s.framesRx.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		Connected:       s.IsConnected(),
		Reconnecting:    s.reconnecting.Load(),
	}
}

// HealthCheck verifies the stream is connected.
func (s *Stream) HealthCheck(_ context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logInfo logs an info message if logger is set.
func (s *Stream) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Stream) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err, "jid", s.cfg.JID)
	}
}
