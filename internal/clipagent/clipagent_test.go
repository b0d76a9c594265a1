package clipagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory clip.Backend for deterministic tests.
type fakeBackend struct {
	mu       sync.Mutex
	text     string
	writeErr error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func (f *fakeBackend) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.text = text
	return nil
}

func (f *fakeBackend) set(text string) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
}

func newTestAgent(backend *fakeBackend) *Agent {
	return &Agent{
		backend: backend,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func TestPollDetectsLocalChange(t *testing.T) {
	backend := &fakeBackend{}
	agent := newTestAgent(backend)

	var got string
	var mu sync.Mutex
	agent.OnChangeSubscribe(func(text string) {
		mu.Lock()
		got = text
		mu.Unlock()
	})

	backend.set("hello")
	agent.poll()

	mu.Lock()
	defer mu.Unlock()
	if got != "hello" {
		t.Fatalf("expected hook called with %q, got %q", "hello", got)
	}
}

func TestPollSkipsWhenSyncInProgress(t *testing.T) {
	backend := &fakeBackend{}
	agent := newTestAgent(backend)

	called := false
	agent.OnChangeSubscribe(func(string) { called = true })

	agent.mu.Lock()
	agent.syncInProgress = true
	agent.mu.Unlock()

	backend.set("hello")
	agent.poll()

	if called {
		t.Fatal("hook should not fire while syncInProgress is set")
	}
}

func TestPollIgnoresUnchangedContent(t *testing.T) {
	backend := &fakeBackend{}
	agent := newTestAgent(backend)

	calls := 0
	agent.OnChangeSubscribe(func(string) { calls++ })

	backend.set("same")
	agent.poll()
	agent.poll()

	if calls != 1 {
		t.Fatalf("expected hook to fire once for unchanged content, got %d calls", calls)
	}
}

func TestApplySuppressesSubsequentPoll(t *testing.T) {
	backend := &fakeBackend{}
	agent := newTestAgent(backend)

	called := false
	agent.OnChangeSubscribe(func(string) { called = true })

	if err := agent.Apply("remote-text"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Immediately after Apply, syncInProgress should still be set (settle
	// delay has not elapsed) so a poll right now does not re-detect the
	// write as a local change.
	agent.poll()
	if called {
		t.Fatal("poll should not re-detect an applied remote update before settle delay elapses")
	}

	text, err := backend.Read()
	if err != nil || text != "remote-text" {
		t.Fatalf("expected backend to hold applied text, got %q, err %v", text, err)
	}
}

func TestApplyRetriesThenFails(t *testing.T) {
	backend := &fakeBackend{writeErr: errors.New("boom")}
	agent := newTestAgent(backend)

	err := agent.Apply("x")
	if !errors.Is(err, ErrClipboardWrite) {
		t.Fatalf("expected ErrClipboardWrite, got %v", err)
	}

	agent.mu.Lock()
	inProgress := agent.syncInProgress
	agent.mu.Unlock()
	if !inProgress {
		t.Fatal("syncInProgress should remain true until the settle timer fires")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	backend := &fakeBackend{}
	agent := newTestAgent(backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agent.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
