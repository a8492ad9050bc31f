// Package v1 defines the live notification feed protocol (inbox v1).
//
// It is shared between the server and clients (including tools/scripts) and
// depends on the standard library only.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "dasma.inbox.v1"

// Type constants (wire-stable).
const (
	// TypeHello is the optional first client frame.
	TypeHello = "hello"
	// TypeHelloAck confirms the subscription (server -> client).
	TypeHelloAck = "hello_ack"
	// TypeNotificationNew pushes a freshly created notification (server -> client).
	TypeNotificationNew = "notification_new"
	// TypeNotificationSeen marks notifications as seen (client -> server).
	TypeNotificationSeen = "notification_seen"
	// TypeSeenAck reports how many records changed (server -> client).
	TypeSeenAck = "seen_ack"
	// TypeError is a generic error frame (server -> client).
	TypeError = "error"
)

var clientTypes = map[string]struct{}{
	TypeHello:            {},
	TypeNotificationSeen: {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateClient checks an envelope received from a client.
func (e Envelope) ValidateClient() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%q want=%q", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := clientTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}

// HelloAckPayload answers a connection.
type HelloAckPayload struct {
	SessionID   string `json:"session_id"`
	RecipientID string `json:"recipient_id"`
}

// NotificationPayload mirrors one stored notification.
type NotificationPayload struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Seen        bool      `json:"seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationSeenPayload lists ids to mark as seen.
type NotificationSeenPayload struct {
	IDs []string `json:"ids"`
}

// SeenAckPayload reports the number of records that flipped to seen.
type SeenAckPayload struct {
	Updated int `json:"updated"`
}

// ErrorPayload carries a machine code and a human message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
