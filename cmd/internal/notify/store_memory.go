package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const memMaxRecordsPerRecipient = 10_000

// InMemoryStore is a dev-only fallback when DB is not configured.
// It implements both Store and Directory; the Directory side is seeded through
// AddProject, AddCollaborator, SetEmail and AddPushSubscription.
type InMemoryStore struct {
	mu sync.Mutex

	records map[string][]Record // recipient_id -> records ordered by insert

	owners        map[string]string             // project_id -> owner_id
	collaborators map[string][]memCollaborator  // project_id -> collaborators
	emails        map[string]string             // user_id -> email
	subs          map[string][]PushSubscription // user_id -> subscriptions
}

type memCollaborator struct {
	userID string
	role   string
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:       make(map[string][]Record),
		owners:        make(map[string]string),
		collaborators: make(map[string][]memCollaborator),
		emails:        make(map[string]string),
		subs:          make(map[string][]PushSubscription),
	}
}

// AddProject registers a project and its owner.
func (s *InMemoryStore) AddProject(projectID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[projectID] = ownerID
}

// AddCollaborator attaches a user to a project with a role.
func (s *InMemoryStore) AddCollaborator(projectID, userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collaborators[projectID] = append(s.collaborators[projectID], memCollaborator{userID: userID, role: role})
}

// SetEmail stores a profile email.
func (s *InMemoryStore) SetEmail(userID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[userID] = email
}

// AddPushSubscription registers a browser push endpoint.
func (s *InMemoryStore) AddPushSubscription(sub PushSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.RecipientID] = append(s.subs[sub.RecipientID], sub)
}

// InsertMany appends records atomically.
func (s *InMemoryStore) InsertMany(ctx context.Context, recs []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == "" || r.RecipientID == "" {
			return ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		list := append(s.records[r.RecipientID], r)
		// Bound memory to avoid unbounded growth in dev.
		if len(list) > memMaxRecordsPerRecipient {
			list = list[len(list)-memMaxRecordsPerRecipient:]
		}
		s.records[r.RecipientID] = list
	}
	return nil
}

// ExistsSince reports whether an identical message exists in the window.
func (s *InMemoryStore) ExistsSince(ctx context.Context, recipientID, message string, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records[recipientID] {
		if r.Message == message && !r.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ListByRecipient returns records newest first.
func (s *InMemoryStore) ListByRecipient(ctx context.Context, in ListInput) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recipientID := strings.TrimSpace(in.RecipientID)
	if recipientID == "" {
		return nil, ErrInvalidInput
	}
	limit := clampLimit(in.Limit)

	s.mu.Lock()
	snap := append([]Record(nil), s.records[recipientID]...)
	s.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool {
		if snap[i].CreatedAt.Equal(snap[j].CreatedAt) {
			return snap[i].ID > snap[j].ID
		}
		return snap[i].CreatedAt.After(snap[j].CreatedAt)
	})

	out := make([]Record, 0, limit)
	for _, r := range snap {
		if in.UnseenOnly && r.Seen {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSeen flips seen on matching unseen records.
func (s *InMemoryStore) MarkSeen(ctx context.Context, recipientID string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(recipientID) == "" {
		return 0, ErrInvalidInput
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	list := s.records[recipientID]
	for i := range list {
		if _, ok := want[list[i].ID]; ok && !list[i].Seen {
			list[i].Seen = true
			n++
		}
	}
	return n, nil
}

// ProjectStakeholders returns the owner and planner collaborators.
func (s *InMemoryStore) ProjectStakeholders(ctx context.Context, projectID string) (string, []string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[projectID]
	if !ok {
		return "", nil, ErrNotFound
	}
	var planners []string
	for _, c := range s.collaborators[projectID] {
		if c.role == RolePlanner {
			planners = append(planners, c.userID)
		}
	}
	return owner, planners, nil
}

// EmailFor returns the stored email for a user.
func (s *InMemoryStore) EmailFor(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.TrimSpace(s.emails[userID])
	if email == "" {
		return "", ErrNotFound
	}
	return email, nil
}

// PushSubscriptions returns the user's push endpoints.
func (s *InMemoryStore) PushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PushSubscription(nil), s.subs[userID]...), nil
}
