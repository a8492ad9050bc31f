package invite

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a Store for tests and database-less development.
type InMemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Invitation
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]Invitation)}
}

// Put inserts or replaces an invitation.
func (s *InMemoryStore) Put(inv Invitation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[inv.ID] = inv
}

// GetForSend returns a copy of the stored invitation.
func (s *InMemoryStore) GetForSend(ctx context.Context, id string) (Invitation, error) {
	if err := ctx.Err(); err != nil {
		return Invitation{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Invitation{}, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.byID[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

// MarkSent stamps sent_at and sent_via.
func (s *InMemoryStore) MarkSent(ctx context.Context, id, via string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	inv.SentAt = &at
	inv.SentVia = via
	s.byID[id] = inv
	return nil
}
