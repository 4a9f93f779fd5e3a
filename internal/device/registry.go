package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache keyed by JID, kept
// in sync by cache-invalidating write operations.
//
// All public methods are thread-safe. Devices cross the boundary by
// value, so callers can modify what they get back without touching the
// cache.
type Registry struct {
	repo    Repository
	cache   map[string]Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry over the given repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// Called on startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	r.cache = make(map[string]Device, len(devices))
	for _, d := range devices {
		r.cache[d.JID] = d
	}
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by JID.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetDevice(ctx context.Context, jid string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[jid]
	r.cacheMu.RUnlock()

	if ok {
		return &cached, nil
	}

	d, err := r.repo.GetByJID(ctx, jid)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[jid] = *d
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices retrieves all devices sorted by name then JID.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, d)
		}
		r.cacheMu.RUnlock()

		sort.Slice(devices, func(i, j int) bool {
			if devices[i].Name != devices[j].Name {
				return devices[i].Name < devices[j].Name
			}
			return devices[i].JID < devices[j].JID
		})
		return devices, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// RegisterDevice creates a new device.
// Returns ErrDeviceExists if the JID is already registered.
func (r *Registry) RegisterDevice(ctx context.Context, d *Device) error {
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.JID] = *d
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "jid", d.JID, "name", d.Name, "address", d.Address)
	return nil
}

// UpdateDevice modifies an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.JID] = *d
	r.cacheMu.Unlock()

	return nil
}

// RemoveDevice deletes a device by JID.
func (r *Registry) RemoveDevice(ctx context.Context, jid string) error {
	if err := r.repo.Delete(ctx, jid); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, jid)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "jid", jid)
	return nil
}

// Observe records a sighting of a device on the network. A new JID is
// registered; a known JID gets its address and last-seen refreshed.
// Called for every mDNS announcement and stream connect, so it must be
// cheap for the already-known case.
func (r *Registry) Observe(ctx context.Context, jid, name, model, address string) error {
	now := time.Now().UTC()

	r.cacheMu.RLock()
	cached, known := r.cache[jid]
	r.cacheMu.RUnlock()

	if known {
		if err := r.repo.Touch(ctx, jid, address, now); err != nil {
			return err
		}
		cached.Address = address
		cached.LastSeen = now
		if name != "" {
			cached.Name = name
		}
		r.cacheMu.Lock()
		r.cache[jid] = cached
		r.cacheMu.Unlock()
		return nil
	}

	d := &Device{
		JID:      jid,
		Name:     name,
		Model:    model,
		Serial:   SerialFromJID(jid),
		Address:  address,
		LastSeen: now,
	}

	err := r.RegisterDevice(ctx, d)
	if errors.Is(err, ErrDeviceExists) {
		// Raced with another observer; fall back to a touch
		return r.repo.Touch(ctx, jid, address, now)
	}
	return err
}

// RecordSoftwareVersion stores the firmware version a device reports
// in its software_update_state notifications.
func (r *Registry) RecordSoftwareVersion(ctx context.Context, jid, version string) error {
	if version == "" {
		return nil
	}

	r.cacheMu.RLock()
	cached, known := r.cache[jid]
	r.cacheMu.RUnlock()
	if known && cached.SoftwareVersion == version {
		return nil
	}

	if err := r.repo.UpdateSoftwareVersion(ctx, jid, version); err != nil {
		return err
	}

	if known {
		cached.SoftwareVersion = version
		r.cacheMu.Lock()
		r.cache[jid] = cached
		r.cacheMu.Unlock()
	}
	return nil
}
