// Package wire defines the JSON message exchanged between mesh peers and the
// canonical byte string that gets HMAC-signed before a message is sent.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of payload a Message carries.
type Type string

const (
	TypeClipboardUpdate Type = "clipboard_update"
	TypeHeartbeat        Type = "heartbeat"
	TypeDeviceInfo        Type = "device_info"
)

// Device describes the node that originated a Message.
type Device struct {
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

// Message is the wire format exchanged over the WebSocket mesh. Content holds
// clipboard text for TypeClipboardUpdate and is empty otherwise.
type Message struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"signature,omitempty"`
	Device    Device    `json:"device"`
}

// NewClipboardUpdate builds an unsigned clipboard_update message with a fresh
// ID and the current time. The caller is expected to sign it before sending.
func NewClipboardUpdate(content string, dev Device) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      TypeClipboardUpdate,
		Content:   content,
		Timestamp: time.Now(),
		Device:    dev,
	}
}

// NewHeartbeat builds an unsigned heartbeat message.
func NewHeartbeat(dev Device) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      TypeHeartbeat,
		Timestamp: time.Now(),
		Device:    dev,
	}
}

// SigningString returns the canonical byte string that gets HMAC-signed.
// Format: id|type-json|content|timestamp-rfc3339. Using the JSON-marshaled
// form of Type rather than the bare string keeps the format stable if Type
// ever stops being a plain string.
func (m Message) SigningString() (string, error) {
	typeJSON, err := json.Marshal(m.Type)
	if err != nil {
		return "", fmt.Errorf("wire: marshal type: %w", err)
	}
	return fmt.Sprintf("%s|%s|%s|%s", m.ID, typeJSON, m.Content, m.Timestamp.UTC().Format(time.RFC3339)), nil
}

// Encode marshals m to JSON.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals JSON into a Message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
