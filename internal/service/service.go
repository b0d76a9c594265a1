// Package service wires the clipboard agent, discovery agent, and broker
// together behind a single state machine so the CLI (or an embedder) can
// start and stop the whole mesh node as one unit.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"unimesh-clip/internal/broker"
	"unimesh-clip/internal/clipagent"
	"unimesh-clip/internal/configstore"
	"unimesh-clip/internal/discovery"
	"unimesh-clip/internal/wire"
)

// State is one of the Manager's lifecycle states.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Manager runs the clipboard agent, discovery agent, and broker as one
// cohesive service, restarting subsystems as configuration changes.
//
// mu guards state, cancel, stopRequested, and the three subsystem pointers.
// Starting and Stopping are mutually exclusive: a Stop() that arrives while
// Start() is still bringing subsystems up does not block or tear down
// partially-initialized state itself. Instead it latches stopRequested and
// returns immediately as a no-op success; Start() checks that latch right
// before committing to StateRunning and, if set, tears down what it just
// built and leaves the Manager Stopped.
type Manager struct {
	store configstore.Store

	mu            sync.Mutex
	state         State
	cancel        context.CancelFunc
	stopRequested bool

	starting atomic.Bool // latch-early: collapses concurrent Start calls

	clip      *clipagent.Agent
	discovery *discovery.Agent
	hub       *broker.Hub

	platform string
}

// New returns a Manager backed by store for configuration.
func New(store configstore.Store, platform string) *Manager {
	return &Manager{store: store, state: StateStopped, platform: platform}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start brings every subsystem up according to the current configuration.
// Concurrent callers collapse onto a single start: the first caller through
// latches m.starting and proceeds; any other caller that arrives while that
// start is in flight, or while a Stop is in progress, returns nil
// immediately without waiting for it.
func (m *Manager) Start(ctx context.Context) error {
	if !m.starting.CompareAndSwap(false, true) {
		return nil
	}
	defer m.starting.Store(false)

	m.mu.Lock()
	if m.state == StateRunning || m.state == StateStopping {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	m.stopRequested = false
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	cfg := m.store.Get()

	clip, err := clipagent.New()
	if err != nil {
		// Non-fatal: the node still participates in networking without a
		// working local clipboard.
		slog.Warn("clipboard agent degraded", "error", err)
	}
	m.mu.Lock()
	m.clip = clip
	m.mu.Unlock()

	hub := broker.New(cfg.WebsocketPort, cfg.SecurityKey)
	if err := hub.Start(runCtx); err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("service: broker start: %w", err)
	}
	m.mu.Lock()
	m.hub = hub
	m.mu.Unlock()

	disc := discovery.New(cfg.MdnsServiceName, m.platform, cfg.WebsocketPort)
	if err := disc.PublishService(); err != nil {
		slog.Warn("discovery publish degraded", "error", err)
	}
	if err := disc.StartDiscovery(runCtx); err != nil {
		slog.Warn("discovery browse degraded", "error", err)
	}
	m.mu.Lock()
	m.discovery = disc
	m.mu.Unlock()

	m.wireClipboardAndBroker(runCtx, cfg, clip, hub)

	m.mu.Lock()
	if m.stopRequested {
		// A Stop() arrived while we were still bringing subsystems up. Honor
		// it now instead of becoming Running: tear down what we just built
		// and leave the Manager Stopped, matching the no-op success Stop()
		// already returned to its caller.
		m.state = StateStopping
		m.stopRequested = false
		m.mu.Unlock()

		m.teardown(cancel, clip, disc, hub)

		m.mu.Lock()
		m.state = StateStopped
		m.clip = nil
		m.discovery = nil
		m.hub = nil
		m.mu.Unlock()
		slog.Info("service stopped before reaching running (stop requested during start)")
		return nil
	}
	m.state = StateRunning
	m.mu.Unlock()

	cfg.SyncEnabled = true
	if err := m.store.Set(cfg); err != nil {
		slog.Warn("failed to persist sync_enabled", "error", err)
	}

	slog.Info("service running", "ws_port", cfg.WebsocketPort, "mdns_service", cfg.MdnsServiceName)
	return nil
}

// teardown stops the given subsystems, which must be the ones most recently
// assigned to m.clip/m.discovery/m.hub. Callers hold no lock while calling
// this; the (possibly slow) Stop calls run outside m.mu.
func (m *Manager) teardown(cancel context.CancelFunc, clip *clipagent.Agent, disc *discovery.Agent, hub *broker.Hub) {
	if cancel != nil {
		cancel()
	}
	if clip != nil {
		clip.Stop()
	}
	if disc != nil {
		disc.StopDiscovery()
	}
	if hub != nil {
		hub.Stop()
	}
}

// wireClipboardAndBroker cross-connects the clipboard agent's locally
// detected changes to a signed broadcast, and the broker's applied remote
// updates back into the clipboard. It takes clip and hub as parameters
// rather than reading m.clip/m.hub so the installed closures, which run on
// every clipboard change and every inbound message, never need to take m.mu.
func (m *Manager) wireClipboardAndBroker(ctx context.Context, cfg configstore.Config, clip *clipagent.Agent, hub *broker.Hub) {
	dev := wire.Device{Name: cfg.MdnsServiceName, Platform: m.platform}

	hub.SetClipboardCallback(func(text string) error {
		if clip == nil {
			return fmt.Errorf("service: clipboard agent unavailable")
		}
		return clip.Apply(text)
	})

	if clip != nil {
		clip.OnChangeSubscribe(func(text string) {
			msg := wire.NewClipboardUpdate(text, dev)
			if err := hub.BroadcastMessage(msg); err != nil {
				slog.Warn("broadcast failed", "error", err)
			}
		})
		go clip.Run(ctx)
	}
}

// Stop tears every subsystem down and returns to StateStopped. Idempotent.
// Starting and Stopping are mutually exclusive: a Stop() that arrives while
// Start() is still mid-flight does not touch the (possibly still-nil)
// subsystem fields itself. It latches stopRequested and returns immediately
// as a no-op success; Start() honors the latch before it would otherwise
// become Running.
func (m *Manager) Stop() {
	m.mu.Lock()
	switch m.state {
	case StateStopped, StateStopping:
		m.mu.Unlock()
		return
	case StateStarting:
		m.stopRequested = true
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	cancel := m.cancel
	clip := m.clip
	disc := m.discovery
	hub := m.hub
	m.mu.Unlock()

	m.teardown(cancel, clip, disc, hub)

	m.mu.Lock()
	m.state = StateStopped
	m.clip = nil
	m.discovery = nil
	m.hub = nil
	m.mu.Unlock()

	cfg := m.store.Get()
	cfg.SyncEnabled = false
	if err := m.store.Set(cfg); err != nil {
		slog.Warn("failed to persist sync_enabled", "error", err)
	}

	slog.Info("service stopped")
}

// UpdateConfig persists cfg and restarts the service if the websocket port
// or mDNS service name changed, since both are only read at subsystem
// construction time.
func (m *Manager) UpdateConfig(ctx context.Context, cfg configstore.Config) error {
	old := m.store.Get()
	needsRestart := old.WebsocketPort != cfg.WebsocketPort || old.MdnsServiceName != cfg.MdnsServiceName

	if err := m.store.Set(cfg); err != nil {
		return fmt.Errorf("service: persist config: %w", err)
	}

	if !needsRestart {
		return nil
	}

	wasRunning := m.State() == StateRunning
	m.Stop()
	if wasRunning {
		return m.Start(ctx)
	}
	return nil
}

// Hub exposes the running broker, or nil if the service is stopped.
func (m *Manager) Hub() *broker.Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub
}

// Discovery exposes the running discovery agent, or nil if the service is stopped.
func (m *Manager) Discovery() *discovery.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discovery
}
