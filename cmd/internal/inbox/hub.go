package inbox

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dasma/cmd/internal/notify"
	v1 "dasma/shared/contracts/inbox/v1"

	"github.com/google/uuid"
)

// ErrTooManySessions is returned by Attach when a recipient is at the session cap.
var ErrTooManySessions = errors.New("inbox: too many sessions")

// Hub tracks open sessions by recipient and fans new notifications out to them.
// It implements notify.Publisher.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]*Client
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		sessions: make(map[string]map[string]*Client),
	}
}

// Attach registers a session for its recipient.
func (h *Hub) Attach(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[c.RecipientID]
	if set == nil {
		set = make(map[string]*Client)
		h.sessions[c.RecipientID] = set
	}
	if _, ok := set[c.SessionID]; !ok && len(set) >= maxSessionsPerRecipient {
		return ErrTooManySessions
	}
	set[c.SessionID] = c
	return nil
}

// Detach removes a session. Unknown sessions are ignored.
func (h *Hub) Detach(recipientID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[recipientID]
	if set == nil {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(h.sessions, recipientID)
	}
}

// Sessions returns the number of open sessions for a recipient.
func (h *Hub) Sessions(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[recipientID])
}

// Publish delivers rec to every open session of its recipient. Slow sessions
// miss the frame; the stored record is still listed on the next fetch.
func (h *Hub) Publish(rec notify.Record) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.sessions[rec.RecipientID]))
	for _, c := range h.sessions[rec.RecipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	env, err := newEnvelope(v1.TypeNotificationNew, toPayload(rec), time.Now().UTC())
	if err != nil {
		h.log.Error("inbox.publish.encode.fail", "err", err)
		return
	}
	for _, c := range targets {
		if !c.offer(env) {
			h.log.Info("inbox.publish.drop", "recipient_id", c.RecipientID, "session_id", c.SessionID)
		}
	}
}

func toPayload(rec notify.Record) v1.NotificationPayload {
	return v1.NotificationPayload{
		ID:          rec.ID,
		RecipientID: rec.RecipientID,
		Title:       rec.Title,
		Message:     rec.Message,
		Seen:        rec.Seen,
		CreatedAt:   rec.CreatedAt,
	}
}

func newEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: raw,
	}, nil
}

var _ notify.Publisher = (*Hub)(nil)
