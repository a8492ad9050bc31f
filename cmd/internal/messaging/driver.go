package messaging

import "context"

// EventKind classifies driver lifecycle events.
type EventKind int

const (
	// EventPairingCode carries a fresh pairing payload to render as a QR code.
	EventPairingCode EventKind = iota + 1
	// EventAuthenticated means the session is logged in and can send.
	EventAuthenticated
	// EventAuthFailure means the handshake failed; Err holds the cause.
	EventAuthFailure
	// EventDisconnected means an established or in-flight session dropped.
	EventDisconnected
)

// Event is emitted by a Driver during bring-up and afterwards.
type Event struct {
	Kind    EventKind
	Payload string
	Err     error
}

// EventHandler receives driver events. It must not block for long.
type EventHandler func(Event)

// Driver is one protocol session bound to a session directory.
type Driver interface {
	// Connect starts the handshake and returns once it is under way. Progress is
	// reported through emit until ctx is cancelled or Close is called.
	Connect(ctx context.Context, emit EventHandler) error
	// Send delivers body to the digits-only phone number.
	Send(ctx context.Context, phone, body string) error
	// Close tears down the connection. Persisted credentials are kept.
	Close() error
}

// DriverFactory builds a Driver that persists credentials under sessionDir.
type DriverFactory func(sessionDir string) (Driver, error)
