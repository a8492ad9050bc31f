package notify

import (
	"strings"
	"time"
)

// Status is a guest's attendance response.
type Status string

const (
	StatusAttending    Status = "attending"
	StatusNotAttending Status = "not_attending"
	StatusMaybe        Status = "maybe"
	StatusPending      Status = "pending"
)

// ParseStatus normalizes a wire value; ok is false for unknown statuses.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusAttending, StatusNotAttending, StatusMaybe, StatusPending:
		return s, true
	default:
		return "", false
	}
}

// Channel identifies a delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Record is one in-app notification row. Only Seen ever changes after insert.
type Record struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipientId"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Seen        bool      `json:"seen"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PushSubscription is a browser push endpoint registered by a recipient.
type PushSubscription struct {
	RecipientID string
	Endpoint    string
	P256dh      string
	Auth        string
}

// RSVPEvent is raised after a guest RSVP write succeeded.
type RSVPEvent struct {
	ProjectID  string
	Status     Status
	GuestNames []string
	GuestCount int
}

// ListInput configures recipient listing.
type ListInput struct {
	RecipientID string
	Limit       int
	UnseenOnly  bool
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	default:
		return n
	}
}
