// Package main is a CI-friendly smoke test for the live inbox.
//
// It connects a websocket session for a recipient, triggers an RSVP
// notification over HTTP, waits for notification_new, and marks it seen.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "dasma/shared/contracts/inbox/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Service base URL")
		origin    = flag.String("origin", "http://localhost", "Origin header for the websocket handshake")
		apiKey    = flag.String("key", os.Getenv("DASMA_API_KEY"), "X-API-KEY for the notify and feed endpoints")
		recipient = flag.String("recipient", "", "Recipient id that belongs to -project")
		project   = flag.String("project", "", "Project id to notify")
		guest     = flag.String("guest", "Smoke Test", "Guest name in the RSVP")
		timeout   = flag.Duration("timeout", 10*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*recipient) == "" || strings.TrimSpace(*project) == "" {
		fatalf("-recipient and -project are required")
	}
	wsURL, err := inboxURL(*baseURL, *recipient)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	c := mustConnect(root, wsURL, *origin, *apiKey, *timeout)
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }()

	ack := c.mustReadUntilType(root, v1.TypeHelloAck, *timeout)
	if *verbose {
		fmt.Printf("connected: %s\n", ack.Payload)
	}

	mustTriggerRSVP(root, *baseURL, *apiKey, *project, *guest, *timeout)

	env := c.mustReadUntilType(root, v1.TypeNotificationNew, *timeout)
	var n v1.NotificationPayload
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		fatalf("unmarshal notification: %v", err)
	}
	if n.RecipientID != *recipient || !strings.Contains(n.Title, *guest) {
		fatalf("unexpected notification: %+v", n)
	}
	if *verbose {
		fmt.Printf("notification: id=%s title=%q\n", n.ID, n.Title)
	}

	mustWrite(root, c.conn, v1.TypeNotificationSeen, v1.NotificationSeenPayload{IDs: []string{n.ID}}, *timeout)
	env = c.mustReadUntilType(root, v1.TypeSeenAck, *timeout)
	var seen v1.SeenAckPayload
	if err := json.Unmarshal(env.Payload, &seen); err != nil {
		fatalf("unmarshal seen_ack: %v", err)
	}
	if seen.Updated != 1 {
		fatalf("seen_ack updated=%d want=1", seen.Updated)
	}

	fmt.Println("OK")
}

func inboxURL(base, recipient string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/notifications/ws"
	u.RawQuery = url.Values{"recipientId": {recipient}}.Encode()
	return u.String(), nil
}

func mustConnect(parent context.Context, wsURL, origin, apiKey string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if apiKey != "" {
		h.Set("X-API-KEY", apiKey)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	go c.readLoop()
	return c
}

func (c *smokeClient) readLoop() {
	defer close(c.inbox)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.fail(fmt.Errorf("bad json: %w", err))
			return
		}
		select {
		case c.inbox <- env:
		default:
			c.fail(errors.New("inbox overflow: consumer too slow"))
			return
		}
	}
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, want string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", want, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", want, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", want)
			}
			if env.Type == want {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
		}
	}
}

func mustTriggerRSVP(parent context.Context, base, apiKey, project, guest string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"projectId":  project,
		"status":     "attending",
		"guestNames": []string{guest},
		"guestCount": 1,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+"/notify/rsvp?wait=true", bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("notify: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fatalf("notify: status=%d", resp.StatusCode)
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
