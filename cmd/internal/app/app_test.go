package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dasma/cmd/internal/messaging"
	"dasma/cmd/security/apikey"
	v1 "dasma/shared/contracts/inbox/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

type stubDriver struct {
	mu   sync.Mutex
	emit messaging.EventHandler
}

func (d *stubDriver) Connect(_ context.Context, emit messaging.EventHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emit = emit
	return nil
}

func (d *stubDriver) Send(context.Context, string, string) error { return nil }

func (d *stubDriver) Close() error { return nil }

func (d *stubDriver) fire(ev messaging.Event) bool {
	d.mu.Lock()
	emit := d.emit
	d.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(ev)
	return true
}

func newTestApp(t *testing.T, key string) (*App, *stubDriver) {
	t.Helper()

	cfg, err := ParseConfig()
	require.NoError(t, err)
	cfg.DatabaseURL = ""
	cfg.APIKey = key
	cfg.WASessionPath = filepath.Join(t.TempDir(), "wa")

	drv := &stubDriver{}
	a, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler),
		WithDriverFactory(func(string) (messaging.Driver, error) { return drv, nil }))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, drv
}

func call(h http.Handler, method, target, key, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	if key != "" {
		r.Header.Set(apikey.HeaderName, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestApp_HealthReadyMetrics(t *testing.T) {
	a, _ := newTestApp(t, "")
	h := a.Handler()

	require.Equal(t, http.StatusOK, call(h, http.MethodGet, "/healthz", "", "").Code)
	require.Equal(t, http.StatusOK, call(h, http.MethodGet, "/readyz", "", "").Code)

	w := call(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestApp_MessagingRoutesRequireKey(t *testing.T) {
	a, drv := newTestApp(t, "s3cret")
	h := a.Handler()

	require.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "/status", "", "").Code)
	require.Equal(t, http.StatusUnauthorized, call(h, http.MethodPost, "/init", "wrong", "").Code)
	require.Equal(t, http.StatusOK, call(h, http.MethodGet, "/healthz", "", "").Code)

	w := call(h, http.MethodPost, "/init", "s3cret", "")
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		return drv.fire(messaging.Event{Kind: messaging.EventPairingCode, Payload: "2@pair"})
	}, 2*time.Second, 5*time.Millisecond)

	var st struct {
		Ready        bool   `json:"ready"`
		Initializing bool   `json:"initializing"`
		QRCode       string `json:"qrCode"`
	}
	require.NoError(t, json.Unmarshal(call(h, http.MethodGet, "/status", "s3cret", "").Body.Bytes(), &st))
	require.True(t, st.Initializing)
	require.NotEmpty(t, st.QRCode)

	drv.fire(messaging.Event{Kind: messaging.EventAuthenticated})
	require.Equal(t, http.StatusConflict, call(h, http.MethodPost, "/init", "s3cret", "").Code)

	w = call(h, http.MethodPost, "/send", "s3cret", `{"to":"38344123456","message":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestApp_NotifyRoutes(t *testing.T) {
	a, _ := newTestApp(t, "s3cret")
	h := a.Handler()

	body := `{"projectId":"missing","status":"attending","guestNames":["Arta"],"guestCount":1}`
	require.Equal(t, http.StatusUnauthorized, call(h, http.MethodPost, "/notify/rsvp", "", body).Code)
	require.Equal(t, http.StatusAccepted, call(h, http.MethodPost, "/notify/rsvp", "s3cret", body).Code)

	require.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "/notifications?recipientId=U1", "", "").Code)
	require.Equal(t, http.StatusUnauthorized,
		call(h, http.MethodPost, "/notifications/seen", "", `{"recipientId":"U1","ids":["n1"]}`).Code)
	require.Equal(t, http.StatusNotFound, call(h, http.MethodGet, "/push/public-key", "", "").Code, "open route, push not configured")

	w := call(h, http.MethodPost, "/notifications/seen", "s3cret", `{"recipientId":"U1","ids":["n1"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = call(h, http.MethodGet, "/notifications?recipientId=U1", "s3cret", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Notifications []json.RawMessage `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Empty(t, list.Notifications)
}

func TestApp_InboxFeedRequiresKey(t *testing.T) {
	a, _ := newTestApp(t, "s3cret")
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications/ws?recipientId=U1"

	_, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol, apikey.ProtocolPrefix + "s3cret"},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Equal(t, v1.Subprotocol, conn.Subprotocol())
}
