package notify

import (
	"context"

	"github.com/resend/resend-go/v2"
)

// ResendProvider is the primary email provider (Resend HTTP API).
type ResendProvider struct {
	client *resend.Client
	from   string
}

// NewResendProvider constructs a ResendProvider.
func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{client: resend.NewClient(apiKey), from: from}
}

// Name identifies the provider in logs and metrics.
func (p *ResendProvider) Name() string { return "resend" }

// Send delivers msg through the Resend API.
func (p *ResendProvider) Send(ctx context.Context, msg Email) error {
	_, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return DeliveryError{Channel: ChannelEmail, Provider: p.Name(), Err: err}
	}
	return nil
}
