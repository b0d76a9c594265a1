package service

import (
	"context"
	"testing"

	"unimesh-clip/internal/configstore"
)

func TestNewManagerStartsStopped(t *testing.T) {
	m := New(configstore.NewMemStore(configstore.Default()), "linux")
	if got := m.State(); got != StateStopped {
		t.Fatalf("expected initial state %q, got %q", StateStopped, got)
	}
}

func TestStopOnStoppedManagerIsNoop(t *testing.T) {
	m := New(configstore.NewMemStore(configstore.Default()), "linux")
	m.Stop() // must not panic or change state
	if got := m.State(); got != StateStopped {
		t.Fatalf("expected state %q after stopping an already-stopped manager, got %q", StateStopped, got)
	}
}

func TestUpdateConfigPersistsWithoutRestartWhenStopped(t *testing.T) {
	store := configstore.NewMemStore(configstore.Default())
	m := New(store, "linux")

	cfg := store.Get()
	cfg.SecurityKey = "new-key"
	if err := m.UpdateConfig(context.Background(), cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if got := store.Get().SecurityKey; got != "new-key" {
		t.Fatalf("expected persisted security key %q, got %q", "new-key", got)
	}
	if got := m.State(); got != StateStopped {
		t.Fatalf("expected manager to remain stopped, got %q", got)
	}
}
