package notify

import (
	"context"
	"strings"

	"github.com/wneessen/go-mail"
)

const defaultSMTPPort = 587

// SMTPProvider is the fallback email provider.
type SMTPProvider struct {
	host     string
	port     int
	user     string
	password string
	from     string
}

// NewSMTPProvider constructs an SMTPProvider. Port 0 means 587.
func NewSMTPProvider(host string, port int, user, password, from string) *SMTPProvider {
	if port <= 0 {
		port = defaultSMTPPort
	}
	return &SMTPProvider{
		host:     strings.TrimSpace(host),
		port:     port,
		user:     user,
		password: password,
		from:     from,
	}
}

// Name identifies the provider in logs and metrics.
func (p *SMTPProvider) Name() string { return "smtp" }

// Send dials the SMTP server and delivers msg. One connection per message keeps
// a failing recipient from poisoning the next one.
func (p *SMTPProvider) Send(ctx context.Context, msg Email) error {
	m := mail.NewMsg()
	if err := m.From(p.from); err != nil {
		return DeliveryError{Channel: ChannelEmail, Provider: p.Name(), Err: err}
	}
	if err := m.To(msg.To); err != nil {
		return DeliveryError{Channel: ChannelEmail, Provider: p.Name(), Err: err}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}

	opts := []mail.Option{mail.WithTLSPortPolicy(mail.TLSOpportunistic)}
	if p.port == 465 {
		opts = []mail.Option{mail.WithSSLPort(false)}
	}
	opts = append(opts, mail.WithPort(p.port))
	if p.user != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(p.user),
			mail.WithPassword(p.password),
		)
	}

	c, err := mail.NewClient(p.host, opts...)
	if err != nil {
		return DeliveryError{Channel: ChannelEmail, Provider: p.Name(), Err: err}
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return DeliveryError{Channel: ChannelEmail, Provider: p.Name(), Err: err}
	}
	return nil
}
