package invite

import (
	"context"
	"time"
)

// Invitation is an invitation joined with its guest and project.
type Invitation struct {
	ID        string
	ProjectID string
	GuestID   string
	Token     string
	GuestName string
	Phone     string
	Partner1  string
	Partner2  string
	EventDate time.Time
	Venue     string
	SentAt    *time.Time
	SentVia   string
}

// Store is the persistence boundary for invitations.
type Store interface {
	// GetForSend loads everything needed to render one invitation.
	GetForSend(ctx context.Context, id string) (Invitation, error)
	// MarkSent records a successful delivery.
	MarkSent(ctx context.Context, id, via string, at time.Time) error
}
