//go:generate go run go.uber.org/mock/mockgen -source=push.go -destination=mocks/push_mock.go -package=mocks
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const defaultPushTTL = 24 * 60 * 60

// PushSender delivers one payload to one browser subscription.
type PushSender interface {
	Send(ctx context.Context, sub PushSubscription, payload []byte) error
}

// VAPIDConfig holds the application-server key pair.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// Enabled reports whether both keys are present.
func (c VAPIDConfig) Enabled() bool {
	return strings.TrimSpace(c.PublicKey) != "" && strings.TrimSpace(c.PrivateKey) != ""
}

// WebPushSender sends VAPID-signed Web Push messages.
type WebPushSender struct {
	cfg VAPIDConfig
	ttl int
}

// NewWebPushSender returns nil when the key pair is incomplete.
func NewWebPushSender(cfg VAPIDConfig) *WebPushSender {
	if !cfg.Enabled() {
		return nil
	}
	return &WebPushSender{cfg: cfg, ttl: defaultPushTTL}
}

// Send encrypts payload for sub and posts it to the push service.
func (w *WebPushSender) Send(ctx context.Context, sub PushSubscription, payload []byte) error {
	if w == nil {
		return ErrChannelDisabled
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      strings.TrimPrefix(w.cfg.Subject, "mailto:"),
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             w.ttl,
	})
	if err != nil {
		return DeliveryError{Channel: ChannelPush, Provider: "webpush", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode >= 400 {
		return DeliveryError{
			Channel:  ChannelPush,
			Provider: "webpush",
			Err:      fmt.Errorf("push service responded %d", resp.StatusCode),
		}
	}
	return nil
}

// pushPayload is the JSON document the service worker receives.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}
