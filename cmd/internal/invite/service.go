package invite

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"dasma/cmd/internal/messaging"
)

// ChannelWhatsApp is recorded in sent_via after a successful send.
const ChannelWhatsApp = "whatsapp"

// Sender delivers a rendered invitation.
type Sender interface {
	SendInvitation(ctx context.Context, inv messaging.Invitation) messaging.Result
}

// Service sends stored invitations and records the outcome.
type Service struct {
	store   Store
	sender  Sender
	baseURL string
	log     *slog.Logger
	now     func() time.Time
}

// Option configures the Service.
type Option func(*Service) error

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l == nil {
			return ErrInvalidInput
		}
		s.log = l
		return nil
	}
}

// WithClock overrides time.Now for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// NewService constructs a Service. baseURL is the public site the guest opens
// to answer, e.g. https://dasma.app.
func NewService(store Store, sender Sender, baseURL string, opts ...Option) (*Service, error) {
	if store == nil || sender == nil {
		return nil, ErrInvalidInput
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:   store,
		sender:  sender,
		baseURL: strings.TrimSuffix(u.String(), "/"),
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ResponseLink is the page where the guest answers the invitation.
func (s *Service) ResponseLink(token string) string {
	return s.baseURL + "/rsvp/" + url.PathEscape(token)
}

// Send delivers one invitation. Lookup problems come back as errors; delivery
// problems come back in the Result. The invitation is marked sent only on success.
func (s *Service) Send(ctx context.Context, invitationID string) (messaging.Result, error) {
	inv, err := s.store.GetForSend(ctx, invitationID)
	if err != nil {
		return messaging.Result{}, err
	}
	if strings.TrimSpace(inv.Phone) == "" {
		return messaging.Result{Error: ErrNoPhone.Error(), Details: messaging.DetailInvalidPhone}, nil
	}

	res := s.sender.SendInvitation(ctx, messaging.Invitation{
		GuestName:    inv.GuestName,
		Phone:        inv.Phone,
		Partner1:     inv.Partner1,
		Partner2:     inv.Partner2,
		EventDate:    inv.EventDate,
		Venue:        inv.Venue,
		ResponseLink: s.ResponseLink(inv.Token),
	})
	if !res.Success {
		s.log.Warn("invite.send.fail", "invitation_id", inv.ID, "details", res.Details)
		return res, nil
	}

	if err := s.store.MarkSent(ctx, inv.ID, ChannelWhatsApp, s.now()); err != nil {
		// The guest already has the message.
		s.log.Error("invite.mark_sent.fail", "invitation_id", inv.ID, "err", err)
	}
	s.log.Info("invite.sent", "invitation_id", inv.ID, "project_id", inv.ProjectID)
	return res, nil
}
