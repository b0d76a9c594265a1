// Package signer authenticates wire messages with HMAC-SHA256 over their
// canonical signing string, keyed by the mesh's shared security key.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"unimesh-clip/internal/wire"
)

// Sign returns the base64-encoded HMAC-SHA256 signature of msg under key.
func Sign(key []byte, msg wire.Message) (string, error) {
	s, err := msg.SigningString()
	if err != nil {
		return "", fmt.Errorf("signer: sign: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Attach signs msg and returns a copy with Signature populated.
func Attach(key []byte, msg wire.Message) (wire.Message, error) {
	sig, err := Sign(key, msg)
	if err != nil {
		return wire.Message{}, err
	}
	msg.Signature = sig
	return msg, nil
}

// Verify reports whether msg.Signature is a valid HMAC-SHA256 signature of
// msg's canonical content under key. Comparison is constant-time.
func Verify(key []byte, msg wire.Message) bool {
	if msg.Signature == "" {
		return false
	}
	want, err := Sign(key, msg)
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil {
		return false
	}
	wantB, err := base64.StdEncoding.DecodeString(want)
	if err != nil {
		return false
	}
	return hmac.Equal(got, wantB)
}
