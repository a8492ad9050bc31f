package notify

import (
	"context"
	"time"
)

// DefaultDedupWindow is the trailing window used when none is configured.
const DefaultDedupWindow = 300 * time.Second

// Deduplicator suppresses notifications whose exact message was already recorded
// for the same recipient within a trailing window. Matching is content-based
// because callers have no durable event id.
type Deduplicator struct {
	store  Store
	window time.Duration
	clock  func() time.Time
}

// NewDeduplicator constructs a Deduplicator. A non-positive window uses the default.
func NewDeduplicator(store Store, window time.Duration, clock func() time.Time) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &Deduplicator{store: store, window: window, clock: clock}
}

// Window returns the configured window.
func (d *Deduplicator) Window() time.Duration { return d.window }

// ShouldSuppress applies the configured window.
func (d *Deduplicator) ShouldSuppress(ctx context.Context, message, recipientID string) (bool, error) {
	return d.ShouldSuppressWithin(ctx, message, recipientID, d.window)
}

// ShouldSuppressWithin reports whether an identical message for recipientID was
// created in [now-window, now]. Errors are returned with false so a caller that
// ignores them fails open.
func (d *Deduplicator) ShouldSuppressWithin(ctx context.Context, message, recipientID string, window time.Duration) (bool, error) {
	if d == nil || d.store == nil {
		return false, ErrStoreNotConfigured
	}
	if recipientID == "" || message == "" {
		return false, ErrInvalidInput
	}
	if window <= 0 {
		window = d.window
	}
	since := d.clock().UTC().Add(-window)
	exists, err := d.store.ExistsSince(ctx, recipientID, message, since)
	if err != nil {
		return false, err
	}
	return exists, nil
}
