package notify

import (
	"context"
	"time"
)

// Store persists in-app notification records.
type Store interface {
	// InsertMany writes all records in one round trip.
	InsertMany(ctx context.Context, recs []Record) error
	// ExistsSince reports whether recipientID already has a record with this exact
	// message created at or after since.
	ExistsSince(ctx context.Context, recipientID, message string, since time.Time) (bool, error)
	ListByRecipient(ctx context.Context, in ListInput) ([]Record, error)
	// MarkSeen flips seen=true for the given ids owned by recipientID and returns
	// the number of rows changed.
	MarkSeen(ctx context.Context, recipientID string, ids []string) (int, error)
}

// ConditionalInserter is implemented by stores shared between processes. Each
// record is written only if no identical message for its recipient exists at or
// after since; the check and the write are atomic per (recipient, message).
type ConditionalInserter interface {
	InsertAbsent(ctx context.Context, recs []Record, since time.Time) (inserted []Record, err error)
}

// Directory answers read-only lookups about projects and users.
type Directory interface {
	// ProjectStakeholders returns the owner and the ids of collaborators with the
	// planner role. A missing project yields ErrNotFound.
	ProjectStakeholders(ctx context.Context, projectID string) (ownerID string, plannerIDs []string, err error)
	// EmailFor returns the stored email of a user, or ErrNotFound when none is stored.
	EmailFor(ctx context.Context, userID string) (string, error)
	PushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error)
}

// Publisher receives freshly inserted records (e.g. a live feed).
type Publisher interface {
	Publish(rec Record)
}
