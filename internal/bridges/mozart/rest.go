package mozart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Mozart REST API constants.
const (
	// mozartAPIPort is the HTTP control port on every Mozart device.
	mozartAPIPort = 80

	// defaultRESTTimeout bounds each command round trip.
	defaultRESTTimeout = 10 * time.Second

	// maxErrorBodySize limits how much of an error response is read
	// for the error message.
	maxErrorBodySize = 2048
)

// DeviceAPI is the command half of the Mozart HTTP API, consumed by the
// group coordinator and the bridge. Defined as an interface so tests
// can substitute a mock.
type DeviceAPI interface {
	// Beolink session operations.
	JoinLatestExperience(ctx context.Context) error
	Join(ctx context.Context, jid, sourceID string) error
	Expand(ctx context.Context, jid string) error
	Unexpand(ctx context.Context, jid string) error
	Leave(ctx context.Context) error
	AllStandby(ctx context.Context) error

	// Volume operations. Level is 0-100.
	SetVolumeLevel(ctx context.Context, level int) error
	AdjustVolumeLevel(ctx context.Context, delta int) error
	SetMute(ctx context.Context, muted bool) error

	// Playback operations.
	PlaybackCommand(ctx context.Context, command string) error
	Seek(ctx context.Context, positionMillis int) error
	SetActiveSource(ctx context.Context, sourceID string) error
}

// Ensure RESTClient implements DeviceAPI.
var _ DeviceAPI = (*RESTClient)(nil)

// RESTClient issues commands against one Mozart device's HTTP API.
//
// All methods return ErrRemoteCommandFailed (wrapped with the remote
// detail) on a non-2xx response. Commands are not retried; they are
// not idempotent-safe in general (seek, relative volume).
type RESTClient struct {
	baseURL string
	http    *http.Client
}

// NewRESTClient creates a client for the device at host. A zero timeout
// uses the default (10s).
func NewRESTClient(host string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &RESTClient{
		baseURL: fmt.Sprintf("http://%s:%d/api/v1", host, mozartAPIPort),
		http:    &http.Client{Timeout: timeout},
	}
}

// JoinLatestExperience asks the device to join the most recent active
// Beolink experience on the network (touch-to-join).
func (c *RESTClient) JoinLatestExperience(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/beolink/join", nil)
}

// Join asks the device to become a listener of the given leader JID,
// optionally naming the source to join.
func (c *RESTClient) Join(ctx context.Context, jid, sourceID string) error {
	path := "/beolink/join/" + url.PathEscape(jid)
	if sourceID != "" {
		path += "?source=" + url.QueryEscape(sourceID)
	}
	return c.do(ctx, http.MethodPost, path, nil)
}

// Expand adds the given JID as a listener of this device's session.
func (c *RESTClient) Expand(ctx context.Context, jid string) error {
	return c.do(ctx, http.MethodPost, "/beolink/expand/"+url.PathEscape(jid), nil)
}

// Unexpand detaches the given listener from this device's session.
func (c *RESTClient) Unexpand(ctx context.Context, jid string) error {
	return c.do(ctx, http.MethodPost, "/beolink/unexpand/"+url.PathEscape(jid), nil)
}

// Leave removes this device from any session it is listening to.
func (c *RESTClient) Leave(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/beolink/leave", nil)
}

// AllStandby puts every device on the Beolink network into standby.
func (c *RESTClient) AllStandby(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/beolink/allstandby", nil)
}

// SetVolumeLevel sets the absolute volume (0-100).
func (c *RESTClient) SetVolumeLevel(ctx context.Context, level int) error {
	body := map[string]int{"level": level}
	return c.do(ctx, http.MethodPut, "/playback/sound/volume/level", body)
}

// AdjustVolumeLevel changes the volume by a signed delta.
func (c *RESTClient) AdjustVolumeLevel(ctx context.Context, delta int) error {
	body := map[string]int{"delta": delta}
	return c.do(ctx, http.MethodPut, "/playback/sound/volume/relative", body)
}

// SetMute sets the mute state.
func (c *RESTClient) SetMute(ctx context.Context, muted bool) error {
	body := map[string]bool{"muted": muted}
	return c.do(ctx, http.MethodPut, "/playback/sound/volume/mute", body)
}

// PlaybackCommand issues a transport command
// (play, pause, stop, next, prev, togglePlayPause).
func (c *RESTClient) PlaybackCommand(ctx context.Context, command string) error {
	return c.do(ctx, http.MethodPost, "/playback/command/"+url.PathEscape(command), nil)
}

// Seek jumps to a position within the current track.
func (c *RESTClient) Seek(ctx context.Context, positionMillis int) error {
	body := map[string]int{"position": positionMillis}
	return c.do(ctx, http.MethodPost, "/playback/command/seek", body)
}

// SetActiveSource switches the device to the given source.
func (c *RESTClient) SetActiveSource(ctx context.Context, sourceID string) error {
	body := map[string]string{"sourceId": sourceID}
	return c.do(ctx, http.MethodPost, "/playback/source/active", body)
}

// do performs one request and maps non-2xx responses to
// ErrRemoteCommandFailed with the remote detail attached.
func (c *RESTClient) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRemoteCommandFailed, method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body cleanup

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("%w: %s %s returned %d: %s",
			ErrRemoteCommandFailed, method, path, resp.StatusCode, string(detail))
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
