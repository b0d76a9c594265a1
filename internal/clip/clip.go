// Package clip provides text-only access to the local OS clipboard.
//
// It wraps golang.design/x/clipboard, which already abstracts the
// platform-specific plumbing (NSPasteboard, Win32 clipboard APIs, X11/Wayland
// selections) behind a single cross-compiled API. Change detection is the
// caller's responsibility — the clipboard agent polls on its own schedule —
// so Backend exposes only a blocking-free read/write pair plus a headless
// fallback for build environments with no clipboard to attach to (CI
// containers, headless Linux).
package clip

import (
	"errors"
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

// ErrEmpty is returned by Read when the clipboard holds no text.
var ErrEmpty = errors.New("clip: clipboard is empty")

// Backend reads and writes the local text clipboard.
type Backend interface {
	// Name identifies the backend, for logging ("system", "headless").
	Name() string
	// Read returns the current clipboard text. Returns ErrEmpty if unset.
	Read() (string, error)
	// Write replaces the clipboard text.
	Write(text string) error
}

var (
	initOnce sync.Once
	initErr  error
)

// New returns the system clipboard backend. If the platform clipboard can't
// be initialized (no display server, sandboxed CI, unsupported OS), it falls
// back to an in-process headless backend rather than failing the caller.
func New() Backend {
	initOnce.Do(func() {
		initErr = clipboard.Init()
	})
	if initErr != nil {
		return newHeadless()
	}
	return systemBackend{}
}

type systemBackend struct{}

func (systemBackend) Name() string { return "system" }

func (systemBackend) Read() (string, error) {
	b := clipboard.Read(clipboard.FmtText)
	if len(b) == 0 {
		return "", ErrEmpty
	}
	return string(b), nil
}

func (systemBackend) Write(text string) error {
	if text == "" {
		return fmt.Errorf("clip: refusing to write empty text")
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// headless backend keeps an in-memory string so the rest of the sync engine
// (discovery, broker, service manager) runs unmodified on machines with no
// attachable clipboard, such as CI runners.
type headless struct {
	mu   sync.Mutex
	text string
	set  bool
}

func newHeadless() *headless {
	return &headless{}
}

func (h *headless) Name() string { return "headless" }

func (h *headless) Read() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.set {
		return "", ErrEmpty
	}
	return h.text, nil
}

func (h *headless) Write(text string) error {
	if text == "" {
		return fmt.Errorf("clip: refusing to write empty text")
	}
	h.mu.Lock()
	h.text, h.set = text, true
	h.mu.Unlock()
	return nil
}
