package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a malformed event or store call.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates a missing project, profile email, or record.
	ErrNotFound = errors.New("not found")
	// ErrStoreNotConfigured indicates the dispatcher has no persistence wiring.
	ErrStoreNotConfigured = errors.New("notification store is not configured")
	// ErrChannelDisabled indicates a channel has no provider configured.
	ErrChannelDisabled = errors.New("channel not configured")
)

// DeliveryError reports a provider-level failure for one channel target.
type DeliveryError struct {
	Channel  Channel
	Provider string
	Err      error
}

func (e DeliveryError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s delivery: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("%s delivery via %s: %v", e.Channel, e.Provider, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }
