package signer

import (
	"testing"
	"time"

	"unimesh-clip/internal/wire"
)

func testMsg() wire.Message {
	return wire.Message{
		ID:        "fixed-id",
		Type:      wire.TypeClipboardUpdate,
		Content:   "hello",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Device:    wire.Device{Name: "dev-a"},
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("shared-secret")
	msg, err := Attach(key, testMsg())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if msg.Signature == "" {
		t.Fatal("expected non-empty signature")
	}
	if !Verify(key, msg) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	msg, err := Attach([]byte("key-a"), testMsg())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if Verify([]byte("key-b"), msg) {
		t.Fatal("expected verification to fail with wrong key")
	}
}

func TestVerifyRejectsTamperedContent(t *testing.T) {
	key := []byte("shared-secret")
	msg, err := Attach(key, testMsg())
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	msg.Content = "tampered"
	if Verify(key, msg) {
		t.Fatal("expected verification to fail after content was altered")
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	if Verify([]byte("shared-secret"), testMsg()) {
		t.Fatal("expected verification to fail on unsigned message")
	}
}
