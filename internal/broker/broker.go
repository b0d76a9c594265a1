// Package broker implements the WebSocket mesh hub: it accepts inbound
// connections, maintains the peer table, deduplicates and rebroadcasts
// clipboard messages, and applies locally-addressed updates through an
// installed callback.
package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"unimesh-clip/internal/msgcache"
	"unimesh-clip/internal/signer"
	"unimesh-clip/internal/tlsconf"
	"unimesh-clip/internal/wire"
)

const (
	broadcastChanCapacity = 100
	applyTimeout          = 2 * time.Second
	applyRetries          = 3
)

// ClipboardHook receives clipboard text from an applied remote update.
type ClipboardHook func(text string) error

// Metrics tallies broker activity for observability.
type Metrics struct {
	MessagesReceived          atomic.Int64
	MessagesRebroadcast       atomic.Int64
	ClipboardUpdatesApplied   atomic.Int64
	ClipboardUpdatesFailed    atomic.Int64
	MessagesDroppedDuplicate  atomic.Int64
	MessagesDroppedSlowPeer   atomic.Int64
	MessagesDroppedBadSig     atomic.Int64
}

// Hub is the WebSocket mesh broker.
type Hub struct {
	addr        string
	securityKey []byte // empty means signature verification and TLS are both disabled

	cache   *msgcache.Cache
	Metrics Metrics

	hookMu sync.RWMutex
	hook   ClipboardHook

	broadcast chan []byte

	mu      sync.RWMutex
	peers   map[string]*peer
	subs    map[chan []byte]struct{}
	running bool
	server  *http.Server
	cancel  context.CancelFunc

	upgrader websocket.Upgrader
}

type peer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// New returns a Hub that will listen on 127.0.0.1:port. securityKey, if
// non-empty, enables inbound signature verification on clipboard_update
// messages and wraps the listener in deterministic TLS.
func New(port int, securityKey string) *Hub {
	return &Hub{
		addr:        fmt.Sprintf("127.0.0.1:%d", port),
		securityKey: []byte(securityKey),
		cache:       msgcache.New(),
		broadcast:   make(chan []byte, broadcastChanCapacity),
		peers:       make(map[string]*peer),
		subs:        make(map[chan []byte]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// SetClipboardCallback installs the hook invoked when a clipboard_update is
// received from a peer. One-slot replacement.
func (h *Hub) SetClipboardCallback(hook ClipboardHook) {
	h.hookMu.Lock()
	h.hook = hook
	h.hookMu.Unlock()
}

// Start binds the listener and begins accepting connections. Idempotent:
// calling Start while already running succeeds without effect.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("broker: bind %s: %w", h.addr, err)
	}

	if len(h.securityKey) > 0 {
		serverCfg, _, tlsErr := tlsconf.ServerConfig(string(h.securityKey))
		if tlsErr != nil {
			ln.Close()
			h.mu.Unlock()
			return fmt.Errorf("broker: tls: %w", tlsErr)
		}
		ln = tls.NewListener(ln, serverCfg)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleUpgrade)
	h.server = &http.Server{Handler: mux}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true
	h.mu.Unlock()

	go func() {
		<-runCtx.Done()
		h.server.Close()
	}()

	go h.broadcastLoop(runCtx)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("broker: serve exited", "error", err)
		}
	}()

	slog.Info("broker listening", "addr", h.addr)
	return nil
}

// Stop shuts down the accept loop and clears the peer table. Idempotent.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	if h.cancel != nil {
		h.cancel()
	}
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.mu.Unlock()

	for _, p := range peers {
		close(p.send)
		p.conn.Close()
	}
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("broker: upgrade failed", "error", err)
		return
	}

	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 32),
	}

	h.mu.Lock()
	h.peers[p.id] = p
	total := len(h.peers)
	h.mu.Unlock()
	slog.Info("peer connected", "peer", p.id, "total", total)

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	go h.writePump(p, sub)
	h.readLoop(p)

	h.mu.Lock()
	delete(h.peers, p.id)
	total = len(h.peers)
	h.mu.Unlock()
	slog.Info("peer disconnected", "peer", p.id, "total", total)
}

// writePump drains both the peer's direct queue and the broadcast
// subscription into the socket.
func (h *Hub) writePump(p *peer, sub chan []byte) {
	defer p.conn.Close()
	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg, ok := <-sub:
			if !ok {
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(p *peer) {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleInbound(p, data)
	}
}

func (h *Hub) handleInbound(origin *peer, data []byte) {
	h.Metrics.MessagesReceived.Add(1)

	msg, err := wire.Decode(data)
	if err != nil {
		slog.Warn("broker: unparseable message, forwarding as-is", "error", err)
		h.rebroadcastRaw(origin, data)
		return
	}

	if h.cache.CheckAndInsert(msg.ID) {
		h.Metrics.MessagesDroppedDuplicate.Add(1)
		return
	}

	if msg.Type == wire.TypeClipboardUpdate {
		if len(h.securityKey) > 0 && !signer.Verify(h.securityKey, msg) {
			h.Metrics.MessagesDroppedBadSig.Add(1)
			return
		}
		if msg.Content != "" {
			h.applyWithRetry(msg.Content)
		}
	}

	h.rebroadcastRaw(origin, data)
}

func (h *Hub) applyWithRetry(content string) {
	h.hookMu.RLock()
	hook := h.hook
	h.hookMu.RUnlock()
	if hook == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= applyRetries; attempt++ {
		done := make(chan error, 1)
		go func() { done <- hook(content) }()

		select {
		case err := <-done:
			if err == nil {
				h.Metrics.ClipboardUpdatesApplied.Add(1)
				return
			}
			lastErr = err
		case <-time.After(applyTimeout):
			lastErr = fmt.Errorf("clipboard apply timed out")
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	slog.Warn("broker: clipboard apply failed after retries", "error", lastErr)
	h.Metrics.ClipboardUpdatesFailed.Add(1)
}

func (h *Hub) rebroadcastRaw(origin *peer, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.peers {
		if id == origin.id {
			continue
		}
		select {
		case p.send <- data:
			h.Metrics.MessagesRebroadcast.Add(1)
		default:
			h.Metrics.MessagesDroppedSlowPeer.Add(1)
			slog.Warn("broker: dropping message for slow peer", "peer", id)
		}
	}
}

// BroadcastMessage serializes msg, records its ID so this node ignores an
// echo of its own broadcast, and publishes it to every connected peer.
func (h *Hub) BroadcastMessage(msg wire.Message) error {
	if len(h.securityKey) > 0 && msg.Signature == "" {
		signed, err := signer.Attach(h.securityKey, msg)
		if err != nil {
			return fmt.Errorf("broker: sign: %w", err)
		}
		msg = signed
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("broker: encode: %w", err)
	}
	h.cache.Insert(msg.ID)

	select {
	case h.broadcast <- data:
	default:
		h.Metrics.MessagesDroppedSlowPeer.Add(1)
		slog.Warn("broker: broadcast channel full, dropping outbound message")
	}
	return nil
}

// broadcastLoop fans out messages published via BroadcastMessage to every
// subscriber. Subscribers are added/removed through subscribe/unsubscribe.
func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			subs := make([]chan []byte, 0, len(h.subs))
			for _, s := range h.subs {
				subs = append(subs, s)
			}
			h.mu.RUnlock()
			for _, s := range subs {
				select {
				case s <- data:
				default:
					h.Metrics.MessagesDroppedSlowPeer.Add(1)
				}
			}
		}
	}
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, broadcastChanCapacity)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

// PeerCount returns the number of currently connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}
