package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Mozart devices advertise on mDNS with TXT records identifying the
// product. The JID is assembled from the type number, item number, and
// serial number records.
const (
	serviceType = "_bangolufsen._tcp"
	domain      = "local."

	txtTypeNumber   = "tn"
	txtItemNumber   = "in"
	txtSerialNumber = "sn"
	txtFriendlyName = "fn"

	jidDomain = "products.bang-olufsen.com"
)

// DiscoveredDevice is one Mozart device seen on the network.
type DiscoveredDevice struct {
	JID     string
	Name    string
	Serial  string
	Address string
	Host    string
	Port    int
}

// Logger is the logging interface used by the Browser.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BrowserOptions configures a Browser.
type BrowserOptions struct {
	// Interface restricts browsing to one network interface. Empty
	// browses all interfaces.
	Interface string

	// RescanInterval restarts the underlying browse periodically to
	// recover from missed announcements. Zero disables restarts.
	RescanInterval time.Duration

	// OnDevice is called for every new or re-announced device.
	// Required.
	OnDevice func(DiscoveredDevice)

	// OnRemove is called when a device's announcement expires on all
	// interfaces. Optional.
	OnRemove func(jid string)

	// Logger receives browse log output. Optional.
	Logger Logger
}

// Browser watches the network for Mozart devices over mDNS.
type Browser struct {
	opts BrowserOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// NewBrowser creates an mDNS browser for Mozart devices.
func NewBrowser(opts BrowserOptions) (*Browser, error) {
	if opts.OnDevice == nil {
		return nil, fmt.Errorf("discovery: OnDevice callback is required")
	}
	return &Browser{opts: opts}, nil
}

// Start begins browsing. The browser runs until Stop is called or the
// context is cancelled.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("discovery: already started")
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.browseLoop(ctx)
	}()

	return nil
}

// Stop ends browsing and waits for the browse goroutines to exit.
func (b *Browser) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// browseLoop runs one browse session at a time, restarting on the
// rescan interval so devices missed during network hiccups are found.
func (b *Browser) browseLoop(ctx context.Context) {
	for {
		sessionCtx := ctx
		var sessionCancel context.CancelFunc
		if b.opts.RescanInterval > 0 {
			sessionCtx, sessionCancel = context.WithTimeout(ctx, b.opts.RescanInterval)
		}

		b.browseOnce(sessionCtx)

		if sessionCancel != nil {
			sessionCancel()
		}
		if ctx.Err() != nil {
			return
		}
		if b.opts.RescanInterval == 0 {
			// Browse returned without a rescan schedule; back off
			// briefly rather than spinning.
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}
}

// browseOnce runs a single browse session until the context ends.
// Entries arriving on multiple interfaces are tracked per JID so a
// device is only reported removed once its last announcement expires.
func (b *Browser) browseOnce(ctx context.Context) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		// Instance name -> JID, announcement count per JID
		instanceJIDs := make(map[string]string)
		announcements := make(map[string]int)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				dev, ok := entryToDevice(entry)
				if !ok {
					b.logDebug("ignoring mDNS entry without product records", "instance", entry.Instance)
					continue
				}

				instanceJIDs[entry.Instance] = dev.JID
				announcements[dev.JID]++
				b.logDebug("device announced", "jid", dev.JID, "name", dev.Name, "address", dev.Address)
				b.opts.OnDevice(dev)

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				jid, known := instanceJIDs[entry.Instance]
				if !known {
					continue
				}
				announcements[jid]--
				if announcements[jid] <= 0 {
					delete(announcements, jid)
					b.logDebug("device expired", "jid", jid)
					if b.opts.OnRemove != nil {
						b.opts.OnRemove(jid)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	err := zeroconf.Browse(ctx, serviceType, domain, entries, removed, b.clientOptions()...)
	if err != nil && ctx.Err() == nil {
		b.logWarn("mDNS browse failed", "error", err)
	}

	wg.Wait()
}

// clientOptions returns zeroconf client options based on config.
func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if b.opts.Interface != "" {
		iface, err := net.InterfaceByName(b.opts.Interface)
		if err != nil {
			b.logWarn("configured interface not found, browsing all",
				"interface", b.opts.Interface, "error", err)
		} else {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// entryToDevice converts one service entry into a DiscoveredDevice.
// Entries without the product TXT records are not Mozart devices.
func entryToDevice(entry *zeroconf.ServiceEntry) (DiscoveredDevice, bool) {
	txt := parseTXT(entry.Text)

	tn := txt[txtTypeNumber]
	in := txt[txtItemNumber]
	sn := txt[txtSerialNumber]
	if tn == "" || in == "" || sn == "" {
		return DiscoveredDevice{}, false
	}

	var address string
	if len(entry.AddrIPv4) > 0 {
		address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		address = entry.AddrIPv6[0].String()
	}
	if address == "" {
		return DiscoveredDevice{}, false
	}

	return DiscoveredDevice{
		JID:     fmt.Sprintf("%s.%s.%s@%s", tn, in, sn, jidDomain),
		Name:    txt[txtFriendlyName],
		Serial:  sn,
		Address: address,
		Host:    entry.HostName,
		Port:    entry.Port,
	}, true
}

// parseTXT decodes key=value TXT records. Keys without a value map to
// an empty string.
func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		if key != "" {
			txt[key] = value
		}
	}
	return txt
}

func (b *Browser) logDebug(msg string, args ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Debug(msg, args...)
	}
}

func (b *Browser) logWarn(msg string, args ...any) {
	if b.opts.Logger != nil {
		b.opts.Logger.Warn(msg, args...)
	}
}
