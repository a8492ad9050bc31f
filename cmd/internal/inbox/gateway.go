package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	v1 "dasma/shared/contracts/inbox/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	defaultSendQueueSize = 64
	minSendQueueSize     = 8
	defaultWriteTimeout  = 5 * time.Second
	closeGrace           = 1 * time.Second
	maxPingFailures      = 3
)

// SeenMarker flips notifications to seen on behalf of a recipient.
type SeenMarker interface {
	MarkSeen(ctx context.Context, recipientID string, ids []string) (int, error)
}

// GatewayConfig tunes the websocket gateway. Zero values take defaults.
type GatewayConfig struct {
	// AllowedOrigins lists full origins or bare hosts; "*" allows any origin.
	AllowedOrigins []string
	// OriginRequired rejects upgrades without an Origin header.
	OriginRequired bool
	// InsecureSkipVerify disables the library's own origin check (dev only).
	InsecureSkipVerify bool

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Gateway is the websocket entrypoint of the live inbox.
//
// It enforces the origin policy and subprotocol, attaches the session to the
// Hub, keeps it alive with pings, and handles client frames under a rate limit.
type Gateway struct {
	log    *slog.Logger
	hub    *Hub
	marker SeenMarker
	cfg    GatewayConfig

	// Derived for websocket.Accept, which only authorizes cross-origin hosts
	// listed in OriginPatterns.
	originPatterns []string
}

// NewGateway constructs a Gateway. marker may be nil, in which case
// notification_seen frames are answered with an error.
func NewGateway(log *slog.Logger, hub *Hub, marker SeenMarker, cfg GatewayConfig) (*Gateway, error) {
	if hub == nil {
		return nil, errors.New("inbox: hub is required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Gateway{
		log:            log,
		hub:            hub,
		marker:         marker,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP upgrades the request and runs the session until either side leaves.
// The recipient is taken from the recipientId query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID := strings.TrimSpace(r.URL.Query().Get("recipientId"))
	if recipientID == "" {
		http.Error(w, "recipientId is required", http.StatusBadRequest)
		return
	}
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("inbox.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("inbox.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("inbox.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(recipientID, uuid.NewString(), g.cfg.SendQueueSize)
	if err := g.hub.Attach(client); err != nil {
		g.log.Info("inbox.reject.sessions", "recipient_id", recipientID, "err", err)
		_ = conn.Close(websocket.StatusTryAgainLater, "too many sessions")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Detach(client.RecipientID, client.SessionID)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.log.Info("inbox.session.open", "recipient_id", recipientID, "session_id", client.SessionID)
	g.sendAck(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("inbox.session.close", "recipient_id", recipientID, "session_id", client.SessionID)
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("inbox.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("inbox.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := ctx, context.CancelFunc(func() {})
		if g.cfg.ReadIdleTimeout > 0 {
			readCtx, readCancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		}
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue
			default:
				g.log.Info("inbox.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if !rl.Allow(time.Now()) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}
		if err := env.ValidateClient(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeHello:
			g.sendAck(client)
		case v1.TypeNotificationSeen:
			if err := g.onSeen(ctx, client, env); err != nil {
				g.trySendError(client, "seen_failed", err.Error())
			}
		}
	}
}

func (g *Gateway) sendAck(client *Client) {
	ack, err := newEnvelope(v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID:   client.SessionID,
		RecipientID: client.RecipientID,
	}, time.Now().UTC())
	if err == nil {
		_ = client.offer(ack)
	}
}

func (g *Gateway) onSeen(ctx context.Context, client *Client, env v1.Envelope) error {
	if g.marker == nil {
		return errors.New("seen tracking unavailable")
	}
	var p v1.NotificationSeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	ids := lo.Uniq(lo.Compact(lo.Map(p.IDs, func(s string, _ int) string { return strings.TrimSpace(s) })))
	if len(ids) == 0 {
		return errors.New("missing ids")
	}
	if len(ids) > maxSeenIDs {
		return fmt.Errorf("too many ids: max=%d", maxSeenIDs)
	}

	n, err := g.marker.MarkSeen(ctx, client.RecipientID, ids)
	if err != nil {
		g.log.Error("inbox.seen.fail", "recipient_id", client.RecipientID, "err", err)
		return errors.New("could not update notifications")
	}

	ack, err := newEnvelope(v1.TypeSeenAck, v1.SeenAckPayload{Updated: n}, time.Now().UTC())
	if err != nil {
		return err
	}
	if !client.offer(ack) {
		return errors.New("backpressure: seen_ack")
	}
	return nil
}

func (g *Gateway) trySendError(client *Client, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err == nil {
		_ = client.offer(env)
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return "bad json: " + e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad errBadJSON
	switch {
	case errors.As(err, &bad):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*", a == origin:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	if lo.ContainsBy(allowed, func(a string) bool { return strings.TrimSpace(a) == "*" }) {
		return []string{"*"}
	}
	hosts := lo.Uniq(lo.FilterMap(allowed, func(a string, _ int) (string, bool) {
		h := originHostOnly(a)
		return h, h != "" && h != "*"
	}))
	slices.Sort(hosts)
	return hosts
}
