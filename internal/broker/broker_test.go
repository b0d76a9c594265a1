package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"unimesh-clip/internal/wire"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestServer(t *testing.T, h *Hub) (*httptest.Server, string) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(h.handleUpgrade))
	t.Cleanup(ts.Close)
	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastFansOutToOtherPeers(t *testing.T) {
	h := New(0, "")
	go h.broadcastLoop(testCtx(t))
	_, wsURL := newTestServer(t, h)

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	time.Sleep(50 * time.Millisecond) // let both peers register

	msg := wire.NewClipboardUpdate("hello", wire.Device{Name: "origin"})
	raw, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := a.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("b did not receive rebroadcast: %v", err)
	}
	got, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Content != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got.Content)
	}
}

func TestDuplicateMessageIsDropped(t *testing.T) {
	h := New(0, "")
	go h.broadcastLoop(testCtx(t))
	_, wsURL := newTestServer(t, h)

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	time.Sleep(50 * time.Millisecond)

	msg := wire.NewClipboardUpdate("hello", wire.Device{Name: "origin"})
	raw, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := a.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := b.ReadMessage(); err != nil {
		t.Fatalf("first receive: %v", err)
	}

	// Same message ID sent again (loop-back simulation) must not be
	// rebroadcast a second time.
	if err := a.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	b.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("expected no second delivery of a duplicate message")
	}
}

func TestInboundBadSignatureIsDropped(t *testing.T) {
	h := New(0, "shared-secret")
	go h.broadcastLoop(testCtx(t))

	applied := false
	h.SetClipboardCallback(func(string) error {
		applied = true
		return nil
	})

	_, wsURL := newTestServer(t, h)
	a := dial(t, wsURL)
	time.Sleep(50 * time.Millisecond)

	msg := wire.NewClipboardUpdate("unsigned", wire.Device{Name: "origin"})
	raw, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := a.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if applied {
		t.Fatal("unsigned clipboard_update should not reach the apply hook when a security key is set")
	}
	if h.Metrics.MessagesDroppedBadSig.Load() == 0 {
		t.Fatal("expected MessagesDroppedBadSig to be incremented")
	}
}
