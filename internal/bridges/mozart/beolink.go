package mozart

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// RoleKind is the device's position in a Beolink session.
type RoleKind int

const (
	// RoleStandalone means the device is in no session.
	RoleStandalone RoleKind = iota

	// RoleLeading means the device streams to one or more listeners.
	RoleLeading

	// RoleListening means the device mirrors a leader.
	RoleListening
)

// String returns the role kind name.
func (k RoleKind) String() string {
	switch k {
	case RoleStandalone:
		return "standalone"
	case RoleLeading:
		return "leading"
	case RoleListening:
		return "listening"
	default:
		return "unknown"
	}
}

// Role is a tagged variant of the device's session position. Exactly
// one shape is valid per kind: Leading carries Listeners, Listening
// carries Leader, Standalone carries neither. A device can never be
// leader and listener at once.
type Role struct {
	Kind      RoleKind
	Leader    string   // Set when Listening
	Listeners []string // Set when Leading, in join order
}

// equal compares two roles including listener order.
func (r Role) equal(other Role) bool {
	if r.Kind != other.Kind || r.Leader != other.Leader {
		return false
	}
	if len(r.Listeners) != len(other.Listeners) {
		return false
	}
	for i, jid := range r.Listeners {
		if other.Listeners[i] != jid {
			return false
		}
	}
	return true
}

// Peer is one discoverable Beolink device.
type Peer struct {
	JID     string
	Name    string
	Address string
}

// APIResolver returns the command API for a device by JID. Used to
// reach whichever device currently leads.
type APIResolver func(jid string) (DeviceAPI, error)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// SelfJID is this device's Beolink identifier. Required.
	SelfJID string

	// API is this device's command API. Required.
	API DeviceAPI

	// Resolve returns the API for another device by JID. Required for
	// forwarding commands to a remote leader; when nil, forwarded
	// operations fall back to the local API.
	Resolve APIResolver

	// OnTopology is invoked once per observed topology change. It runs
	// with the coordinator lock held and must not call back into the
	// coordinator or block.
	OnTopology func(Role)

	// Logger receives coordinator log output. Optional.
	Logger Logger
}

// Coordinator maintains one device's belief about its Beolink session
// and executes group operations against the remote API.
//
// Topology is owned exclusively by the coordinator: notifications from
// the device are authoritative and overwrite the cache (last wins,
// since membership changes can originate remotely). A failed
// membership operation never touches the cache; the next notification
// reports the true state.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	selfJID string
	api     DeviceAPI
	resolve APIResolver

	mu           sync.RWMutex
	role         Role
	peers        map[string]Peer
	activeSource string

	onTopology func(Role)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCoordinator creates a coordinator for one device.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.SelfJID == "" {
		return nil, fmt.Errorf("%w: self JID is required", ErrInvalidParameter)
	}
	if opts.API == nil {
		return nil, fmt.Errorf("%w: device API is required", ErrInvalidParameter)
	}

	return &Coordinator{
		selfJID:    opts.SelfJID,
		api:        opts.API,
		resolve:    opts.Resolve,
		peers:      make(map[string]Peer),
		onTopology: opts.OnTopology,
		logger:     opts.Logger,
	}, nil
}

// Role returns the current cached session role.
func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()

	role := c.role
	role.Listeners = append([]string(nil), c.role.Listeners...)
	return role
}

// Peers returns the currently known Beolink peers.
func (c *Coordinator) Peers() []Peer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	return peers
}

// SetPeers replaces the known peer set. Called by discovery and by
// beolink peer notifications.
func (c *Coordinator) SetPeers(peers []Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peers = make(map[string]Peer, len(peers))
	for _, p := range peers {
		if p.JID == c.selfJID {
			continue
		}
		c.peers[p.JID] = p
	}
}

// Join makes this device a listener.
//
// With an empty targetJID the device joins the most recent active
// experience on the network (touch-to-join). A non-empty targetJID
// must be a known peer, else ErrInvalidGroupingTarget. A non-empty
// sourceID must be joinable, else ErrInvalidParameter.
func (c *Coordinator) Join(ctx context.Context, targetJID, sourceID string) error {
	if sourceID != "" && !IsJoinableSource(sourceID) {
		return fmt.Errorf("%w: source %q is not joinable", ErrInvalidParameter, sourceID)
	}

	if targetJID == "" {
		if err := c.api.JoinLatestExperience(ctx); err != nil {
			return err
		}
		return nil
	}

	c.mu.RLock()
	_, known := c.peers[targetJID]
	c.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrInvalidGroupingTarget, targetJID)
	}

	return c.api.Join(ctx, targetJID, sourceID)
}

// Expand adds listeners to this device's session.
//
// Only valid while leading, or while playing an expandable source
// (which creates the session); otherwise ErrNotALeader. With
// allDiscovered the session expands to every known peer. Each JID is
// validated against known peers and expanded individually; a failing
// JID is reported in the returned error and the rest proceed.
func (c *Coordinator) Expand(ctx context.Context, jids []string, allDiscovered bool) error {
	c.mu.RLock()
	role := c.role
	source := c.activeSource
	c.mu.RUnlock()

	if role.Kind == RoleListening {
		return fmt.Errorf("%w: device listens to %s", ErrNotALeader, role.Leader)
	}
	if role.Kind == RoleStandalone && !IsExpandableSource(source) {
		return fmt.Errorf("%w: source %q cannot be expanded", ErrNotALeader, source)
	}

	if allDiscovered {
		jids = nil
		c.mu.RLock()
		for jid := range c.peers {
			jids = append(jids, jid)
		}
		c.mu.RUnlock()
	}

	var errs []error
	for _, jid := range jids {
		if !allDiscovered {
			c.mu.RLock()
			_, known := c.peers[jid]
			c.mu.RUnlock()
			if !known {
				errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidGroupingTarget, jid))
				continue
			}
		}

		if err := c.api.Expand(ctx, jid); err != nil {
			errs = append(errs, fmt.Errorf("expand %s: %w", jid, err))
		}
	}

	return errors.Join(errs...)
}

// Unexpand detaches the listed listeners from this device's session.
// Only valid while leading (ErrNotALeader otherwise).
func (c *Coordinator) Unexpand(ctx context.Context, jids []string) error {
	c.mu.RLock()
	role := c.role
	c.mu.RUnlock()

	if role.Kind != RoleLeading {
		return fmt.Errorf("%w: device leads no session", ErrNotALeader)
	}

	var errs []error
	for _, jid := range jids {
		if err := c.api.Unexpand(ctx, jid); err != nil {
			errs = append(errs, fmt.Errorf("unexpand %s: %w", jid, err))
		}
	}

	return errors.Join(errs...)
}

// Leave removes this device from any session it listens to.
// Idempotent: a no-op while standalone.
func (c *Coordinator) Leave(ctx context.Context) error {
	c.mu.RLock()
	standalone := c.role.Kind == RoleStandalone
	c.mu.RUnlock()

	if standalone {
		return nil
	}

	return c.api.Leave(ctx)
}

// AllStandby puts the whole Beolink network into standby.
func (c *Coordinator) AllStandby(ctx context.Context) error {
	return c.api.AllStandby(ctx)
}

// SetVolume sets the volume level (0-100) with session awareness:
// while listening, the level is forwarded to the leader; while
// leading, it is applied locally and fanned out to every listener;
// standalone applies locally only.
func (c *Coordinator) SetVolume(ctx context.Context, level int) error {
	return c.sessionVolume(ctx,
		func(api DeviceAPI) error { return api.SetVolumeLevel(ctx, level) })
}

// SetRelativeVolume adjusts the volume by a signed delta with the same
// session awareness as SetVolume.
func (c *Coordinator) SetRelativeVolume(ctx context.Context, delta int) error {
	return c.sessionVolume(ctx,
		func(api DeviceAPI) error { return api.AdjustVolumeLevel(ctx, delta) })
}

// sessionVolume applies a volume operation across the current session.
func (c *Coordinator) sessionVolume(_ context.Context, apply func(DeviceAPI) error) error {
	c.mu.RLock()
	role := c.role
	listeners := append([]string(nil), c.role.Listeners...)
	c.mu.RUnlock()

	switch role.Kind {
	case RoleListening:
		api, err := c.apiFor(role.Leader)
		if err != nil {
			return err
		}
		return apply(api)

	case RoleLeading:
		var errs []error
		if err := apply(c.api); err != nil {
			errs = append(errs, err)
		}
		for _, jid := range listeners {
			api, err := c.apiFor(jid)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := apply(api); err != nil {
				errs = append(errs, fmt.Errorf("listener %s: %w", jid, err))
			}
		}
		return errors.Join(errs...)

	default:
		return apply(c.api)
	}
}

// LeaderCommand validates and executes a command against whichever
// device currently leads. While listening the command targets the
// leader; otherwise it runs locally. Unknown kinds and bad parameters
// return ErrInvalidParameter.
func (c *Coordinator) LeaderCommand(ctx context.Context, kind string, param any) error {
	cmd, err := ParseCommand(kind, param)
	if err != nil {
		return err
	}

	c.mu.RLock()
	role := c.role
	c.mu.RUnlock()

	api := c.api
	if role.Kind == RoleListening {
		api, err = c.apiFor(role.Leader)
		if err != nil {
			return err
		}
	}

	return executeCommand(ctx, api, cmd)
}

// executeCommand maps a validated command onto the device API.
func executeCommand(ctx context.Context, api DeviceAPI, cmd Command) error {
	switch cmd.Kind {
	case CommandSetVolumeLevel:
		return api.SetVolumeLevel(ctx, int(cmd.Float*100))
	case CommandSetRelativeVolumeLevel:
		return api.AdjustVolumeLevel(ctx, int(cmd.Float*100))
	case CommandMediaSeek:
		return api.Seek(ctx, int(cmd.Float*1000))
	case CommandMuteVolume:
		return api.SetMute(ctx, cmd.Bool)
	case CommandSelectSource:
		return api.SetActiveSource(ctx, cmd.String)
	case CommandVolumeUp:
		return api.AdjustVolumeLevel(ctx, 1)
	case CommandVolumeDown:
		return api.AdjustVolumeLevel(ctx, -1)
	case CommandMediaPlayPause:
		return api.PlaybackCommand(ctx, "togglePlayPause")
	case CommandMediaPause:
		return api.PlaybackCommand(ctx, "pause")
	case CommandMediaPlay:
		return api.PlaybackCommand(ctx, "play")
	case CommandMediaStop:
		return api.PlaybackCommand(ctx, "stop")
	case CommandMediaNextTrack:
		return api.PlaybackCommand(ctx, "next")
	case CommandMediaPreviousTrack:
		return api.PlaybackCommand(ctx, "prev")
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidParameter, cmd.Kind)
	}
}

// apiFor resolves the command API for a remote device.
func (c *Coordinator) apiFor(jid string) (DeviceAPI, error) {
	if jid == c.selfJID || jid == "" {
		return c.api, nil
	}
	if c.resolve == nil {
		return c.api, nil
	}

	api, err := c.resolve(jid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidGroupingTarget, jid, err)
	}
	return api, nil
}

// HandlePlaybackMetadata ingests a playback_metadata notification.
// A remote leader reference means this device is listening; its
// absence while listening means the session ended.
func (c *Coordinator) HandlePlaybackMetadata(n PlaybackMetadataNotification) {
	c.mu.Lock()

	var newRole Role
	switch {
	case n.RemoteLeader != nil && *n.RemoteLeader != "":
		newRole = Role{Kind: RoleListening, Leader: *n.RemoteLeader}
	case c.role.Kind == RoleListening:
		newRole = Role{Kind: RoleStandalone}
	default:
		newRole = c.role
	}

	c.applyRoleLocked(newRole)
	c.mu.Unlock()
}

// HandleBeolink ingests a beolink notification. Listener updates set
// or dissolve the led session; peer updates refresh the peer set.
func (c *Coordinator) HandleBeolink(n BeolinkNotification) {
	switch n.SubType {
	case BeolinkSubListeners:
		c.mu.Lock()
		var newRole Role
		switch {
		case n.Leader != "" && n.Leader != c.selfJID:
			newRole = Role{Kind: RoleListening, Leader: n.Leader}
		case len(n.Listeners) > 0:
			newRole = Role{Kind: RoleLeading, Listeners: append([]string(nil), n.Listeners...)}
		case c.role.Kind == RoleLeading:
			newRole = Role{Kind: RoleStandalone}
		default:
			newRole = c.role
		}
		c.applyRoleLocked(newRole)
		c.mu.Unlock()

	case BeolinkSubPeers, BeolinkSubAvailableListeners:
		peers := make([]Peer, 0, len(n.Peers))
		for _, p := range n.Peers {
			peers = append(peers, Peer{JID: p.JID, Name: p.FriendlyName, Address: p.IPAddress})
		}
		c.SetPeers(peers)

	default:
		c.logDebug("ignoring beolink sub-notification", "subType", n.SubType)
	}
}

// HandleRole ingests a role notification, the device's own statement of
// its session position. Cached leader and listener details are kept when
// the reported kind already matches; a kind change without them leaves
// the new role's details empty until the next beolink or metadata
// notification fills them in.
func (c *Coordinator) HandleRole(n RoleNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var newRole Role
	switch n.Value {
	case "leader":
		newRole = Role{Kind: RoleLeading}
		if c.role.Kind == RoleLeading {
			newRole = c.role
		}
	case "listener":
		newRole = Role{Kind: RoleListening}
		if c.role.Kind == RoleListening {
			newRole = c.role
		}
	case "standalone":
		newRole = Role{Kind: RoleStandalone}
	default:
		c.logDebug("ignoring unknown role value", "value", n.Value)
		return
	}

	c.applyRoleLocked(newRole)
}

// HandleSourceChange tracks the active source for expand validation.
func (c *Coordinator) HandleSourceChange(n SourceChangeNotification) {
	c.mu.Lock()
	c.activeSource = n.ID
	c.mu.Unlock()
}

// applyRoleLocked replaces the cached role and fires the topology
// callback on change. Caller holds c.mu.
func (c *Coordinator) applyRoleLocked(newRole Role) {
	if c.role.equal(newRole) {
		return
	}

	c.role = newRole
	c.logDebug("topology changed",
		"role", newRole.Kind.String(),
		"leader", newRole.Leader,
		"listeners", len(newRole.Listeners))

	if c.onTopology != nil {
		snapshot := newRole
		snapshot.Listeners = append([]string(nil), newRole.Listeners...)
		c.onTopology(snapshot)
	}
}

// SetLogger sets the logger for this coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
