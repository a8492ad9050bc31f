//go:generate go run go.uber.org/mock/mockgen -source=email.go -destination=mocks/email_mock.go -package=mocks
package notify

import (
	"bytes"
	"context"
	"html/template"
	"strings"
)

// Email is one outgoing message to a single address.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailProvider delivers a single email.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, msg Email) error
}

// EmailConfig selects and configures the email channel.
type EmailConfig struct {
	ResendAPIKey string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	From         string
}

const defaultEmailFrom = "Dasma <njoftime@dasma.app>"

// NewEmailProvider picks the primary provider when its API key is set, SMTP when a
// host is set, and returns nil when neither is configured.
func NewEmailProvider(cfg EmailConfig) EmailProvider {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = defaultEmailFrom
	}
	switch {
	case strings.TrimSpace(cfg.ResendAPIKey) != "":
		return NewResendProvider(cfg.ResendAPIKey, from)
	case strings.TrimSpace(cfg.SMTPHost) != "":
		return NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, from)
	default:
		return nil
	}
}

var emailTemplate = template.Must(template.New("rsvp").Parse(`<!doctype html>
<html>
  <body style="font-family: Georgia, serif; color: #3f3a36; background: #faf7f2; padding: 24px;">
    <div style="max-width: 520px; margin: 0 auto; background: #ffffff; border-radius: 12px; padding: 24px;">
      <h2 style="margin-top: 0; color: #8b6f47;">{{.Title}}</h2>
      <p style="font-size: 16px; line-height: 1.5;">{{.Message}}</p>
      {{if .Link}}<p><a href="{{.Link}}" style="color: #8b6f47;">{{.LinkLabel}}</a></p>{{end}}
      <p style="font-size: 12px; color: #9a918a;">{{.Footer}}</p>
    </div>
  </body>
</html>`))

type emailView struct {
	Title     string
	Message   string
	Link      string
	LinkLabel string
	Footer    string
}

// BuildEmail renders the RSVP email for one address.
func BuildEmail(loc Localizer, to string, c Content, link string) (Email, error) {
	view := emailView{
		Title:     c.Title,
		Message:   c.Message,
		Link:      link,
		LinkLabel: loc.Sprintf(keyEmailOpen),
		Footer:    loc.Sprintf(keyEmailFooter),
	}
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, view); err != nil {
		return Email{}, err
	}

	text := c.Message
	if link != "" {
		text += "\n\n" + view.LinkLabel + ": " + link
	}
	text += "\n\n" + view.Footer

	return Email{
		To:      to,
		Subject: c.Title,
		Text:    text,
		HTML:    buf.String(),
	}, nil
}
