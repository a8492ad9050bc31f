package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Send unless the session is READY.
	ErrNotReady = errors.New("whatsapp session not ready")
	// ErrInvalidPhone indicates a destination with no usable digits.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrRestartRequired is returned by Init from ERROR or DISCONNECTED.
	ErrRestartRequired = errors.New("session failed; restart required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session manager closed")
	// ErrInvalidInput indicates a malformed call.
	ErrInvalidInput = errors.New("invalid input")
)

// DeliveryError wraps a provider failure for one outbound message.
type DeliveryError struct {
	Op  string
	Err error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("messaging %s: %v", e.Op, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }
