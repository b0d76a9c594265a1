// Package discovery advertises this node over mDNS/DNS-SD and browses for
// peers, maintaining a freshness-tracked table of the devices it has seen.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"

	"unimesh-clip/internal/netutil"
)

const (
	// deviceTimeout drops a device row that hasn't been refreshed this long.
	deviceTimeout = 60 * time.Second
	// sweepInterval is how often the stale-device sweep runs.
	sweepInterval = 5 * time.Second
	// reBrowseInterval is the minimum gap between two browse passes.
	reBrowseInterval = 30 * time.Second

	appVersion = "1.0"
)

// Device is a peer discovered on the local network.
type Device struct {
	Name      string
	Address   string
	Port      int
	Platform  string
	LastSeen  time.Time
	Trusted   bool
}

// Agent publishes this node's service record and browses for peers of the
// same service type, filtering out its own advertisement.
type Agent struct {
	serviceName string
	serviceID   string // 128-bit hex identifier embedded in the service_id TXT key
	instance    string // <serviceName>-<8 hex of serviceID>
	port        int
	platform    string

	mu      sync.Mutex
	server  *zeroconf.Server
	cancel  context.CancelFunc
	running bool

	devMu   sync.RWMutex
	devices map[string]Device // keyed by "address:port"

	lastBrowse time.Time
}

// New returns an Agent advertising mdnsServiceName on the given port.
func New(mdnsServiceName, platform string, port int) *Agent {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Agent{
		serviceName: mdnsServiceName,
		serviceID:   id,
		instance:    fmt.Sprintf("%s-%s", mdnsServiceName, id[:8]),
		port:        port,
		platform:    platform,
		devices:     make(map[string]Device),
	}
}

func (a *Agent) serviceType() string {
	return fmt.Sprintf("_%s._tcp", a.serviceName)
}

// PublishService advertises this node's service record. Failures are logged
// and returned so the caller can decide whether to treat them as fatal; the
// spec treats publish/browse failures as independently non-fatal.
func (a *Agent) PublishService() error {
	txt := []string{
		"version=" + appVersion,
		"platform=" + a.platform,
		"service_id=" + a.serviceID,
	}
	server, err := zeroconf.Register(a.instance, a.serviceType(), "local.", a.port, txt, nil)
	if err != nil {
		slog.Error("discovery: publish failed", "error", err)
		return fmt.Errorf("discovery: publish: %w", err)
	}
	a.mu.Lock()
	a.server = server
	a.mu.Unlock()
	return nil
}

// StartDiscovery begins browsing for peers. Idempotent: a prior browse task
// is stopped before a new one starts.
func (a *Agent) StartDiscovery(ctx context.Context) error {
	a.mu.Lock()
	if a.running && a.cancel != nil {
		a.cancel() // stop the prior browse and sweep loops
	}
	browseCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true
	a.mu.Unlock()

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		slog.Error("discovery: resolver init failed", "error", err)
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("discovery: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go a.consumeEntries(entries)

	go a.browseLoop(browseCtx, resolver, entries)
	go a.sweepLoop(browseCtx)

	return nil
}

// StopDiscovery aborts the browse task and mDNS daemon.
func (a *Agent) StopDiscovery() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.running = false
		if a.cancel != nil {
			a.cancel()
		}
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

func (a *Agent) browseLoop(ctx context.Context, resolver *zeroconf.Resolver, entries chan *zeroconf.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.mu.Lock()
		since := time.Since(a.lastBrowse)
		a.mu.Unlock()
		if since < reBrowseInterval {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reBrowseInterval - since):
			}
			continue
		}

		a.mu.Lock()
		a.lastBrowse = time.Now()
		a.mu.Unlock()

		if err := resolver.Browse(ctx, a.serviceType(), "local.", entries); err != nil {
			slog.Error("discovery: browse failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reBrowseInterval):
		}
	}
}

func (a *Agent) consumeEntries(entries chan *zeroconf.ServiceEntry) {
	for e := range entries {
		a.handleEntry(e)
	}
}

func (a *Agent) handleEntry(e *zeroconf.ServiceEntry) {
	if a.isSelf(e) {
		return
	}

	var addr string
	for _, ip := range e.AddrIPv4 {
		addr = ip.String()
		break
	}
	if addr == "" {
		return
	}

	platform := ""
	for _, t := range e.Text {
		if strings.HasPrefix(t, "platform=") {
			platform = strings.TrimPrefix(t, "platform=")
		}
	}

	key := fmt.Sprintf("%s:%d", addr, e.Port)
	a.devMu.Lock()
	a.devices[key] = Device{
		Name:     e.Instance,
		Address:  addr,
		Port:     e.Port,
		Platform: platform,
		LastSeen: time.Now(),
	}
	a.devMu.Unlock()
}

// isSelf implements the spec's dual self-filter: an entry is our own
// advertisement if its instance name contains the 8-hex service_id token
// that New embeds in our instance name, or if its port matches ours and at
// least one of its addresses is one of our own local IPv4 addresses.
func (a *Agent) isSelf(e *zeroconf.ServiceEntry) bool {
	if strings.Contains(e.Instance, a.serviceID[:8]) {
		return true
	}
	if e.Port != a.port {
		return false
	}
	local, err := netutil.LocalIPv4s()
	if err != nil {
		return false
	}
	for _, ip := range e.AddrIPv4 {
		if netutil.Contains(local, ip.String()) {
			return true
		}
	}
	return false
}

func (a *Agent) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Agent) sweep() {
	cutoff := time.Now().Add(-deviceTimeout)
	a.devMu.Lock()
	defer a.devMu.Unlock()
	for key, d := range a.devices {
		if d.LastSeen.Before(cutoff) {
			delete(a.devices, key)
		}
	}
}

// GetDiscoveredDevices returns a snapshot of the current device table.
func (a *Agent) GetDiscoveredDevices() []Device {
	a.devMu.RLock()
	defer a.devMu.RUnlock()
	out := make([]Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	return out
}

// ServiceID returns this node's embedded 128-bit identifier, hex-encoded.
func (a *Agent) ServiceID() string { return a.serviceID }
