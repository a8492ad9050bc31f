package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// Result details distinguish why a send failed.
const (
	DetailSessionNotReady = "session_not_ready"
	DetailInvalidPhone    = "invalid_phone"
	DetailInvalidInput    = "invalid_input"
	DetailProviderError   = "provider_error"
)

// Result is the structured outcome of one outbound message.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Session is the subset of Manager that Sender needs.
type Session interface {
	Send(ctx context.Context, phone, body string) error
}

// Sender renders invitations and hands them to the session.
type Sender struct {
	session Session
	locale  string
	log     *slog.Logger
}

// NewSender constructs a Sender. locale picks the invitation language ("sq", "en").
func NewSender(session Session, locale string, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{session: session, locale: strings.TrimSpace(locale), log: log}
}

// SendInvitation renders inv and sends it to inv.Phone.
func (s *Sender) SendInvitation(ctx context.Context, inv Invitation) Result {
	if strings.TrimSpace(inv.ResponseLink) == "" {
		return Result{Error: "invitation has no response link", Details: DetailInvalidInput}
	}
	return s.SendText(ctx, inv.Phone, RenderInvitation(s.locale, inv))
}

// SendText sends a raw body. Failures come back as a Result, never a panic.
func (s *Sender) SendText(ctx context.Context, phone, body string) Result {
	if s == nil || s.session == nil {
		return Result{Error: ErrNotReady.Error(), Details: DetailSessionNotReady}
	}
	err := s.session.Send(ctx, phone, body)
	if err == nil {
		return Result{Success: true}
	}
	s.log.Warn("messaging.sender.fail", "err", err)
	return resultFor(err)
}

func resultFor(err error) Result {
	switch {
	case errors.Is(err, ErrNotReady):
		return Result{Error: err.Error(), Details: DetailSessionNotReady}
	case errors.Is(err, ErrInvalidPhone):
		return Result{Error: err.Error(), Details: DetailInvalidPhone}
	case errors.Is(err, ErrInvalidInput):
		return Result{Error: err.Error(), Details: DetailInvalidInput}
	default:
		return Result{Error: err.Error(), Details: DetailProviderError}
	}
}
