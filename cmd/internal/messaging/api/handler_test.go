package messagingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dasma/cmd/internal/invite"
	"dasma/cmd/internal/messaging"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	status     messaging.Status
	initRes    messaging.InitResult
	initErr    error
	restartErr error
	restarts   int
	sent       []string
	sendErr    error
}

func (f *fakeSession) Status() messaging.Status { return f.status }

func (f *fakeSession) Init(context.Context) (messaging.InitResult, error) { return f.initRes, f.initErr }

func (f *fakeSession) Restart(context.Context) (messaging.InitResult, error) {
	f.restarts++
	return messaging.InitStarted, f.restartErr
}

func (f *fakeSession) Send(_ context.Context, phone, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, phone+":"+body)
	return nil
}

type fakeInvitations struct {
	res messaging.Result
	err error
	ids []string
}

func (f *fakeInvitations) Send(_ context.Context, id string) (messaging.Result, error) {
	f.ids = append(f.ids, id)
	return f.res, f.err
}

func newMux(t *testing.T, s *fakeSession, inv Invitations) *http.ServeMux {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	h, err := NewHandler(log, s, messaging.NewSender(s, "sq", log), inv)
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestStatus_RendersQRCodeWhilePairing(t *testing.T) {
	t.Parallel()

	s := &fakeSession{status: messaging.Status{
		State:          messaging.StatePairing,
		Initializing:   true,
		PairingPayload: "2@abc,def,ghi",
		HasSession:     true,
	}}
	w := do(newMux(t, s, nil), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	got := decode(t, w)
	require.Equal(t, false, got["ready"])
	require.Equal(t, true, got["initializing"])
	require.Equal(t, true, got["hasClient"])
	require.Equal(t, "PAIRING", got["state"])
	require.True(t, strings.HasPrefix(got["qrCode"].(string), "data:image/png;base64,"))
	require.NotContains(t, got, "error")
}

func TestStatus_ReadyHasNoQRCode(t *testing.T) {
	t.Parallel()

	s := &fakeSession{status: messaging.Status{State: messaging.StateReady, Ready: true, HasSession: true}}
	got := decode(t, do(newMux(t, s, nil), http.MethodGet, "/status", ""))
	require.Equal(t, true, got["ready"])
	require.NotContains(t, got, "qrCode")

	w := do(newMux(t, s, nil), http.MethodPost, "/status", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestInit_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  messaging.InitResult
		err  error
		want int
		code string
	}{
		{name: "started", res: messaging.InitStarted, want: http.StatusOK},
		{name: "already ready", res: messaging.InitAlreadyReady, want: http.StatusConflict, code: "already_ready"},
		{name: "in progress", res: messaging.InitInProgress, want: http.StatusConflict, code: "in_progress"},
		{name: "restart required", err: messaging.ErrRestartRequired, want: http.StatusConflict, code: "restart_required"},
		{name: "closed", err: messaging.ErrClosed, want: http.StatusServiceUnavailable, code: "shutting_down"},
		{name: "other", err: fmt.Errorf("disk full"), want: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &fakeSession{initRes: tc.res, initErr: tc.err}
			w := do(newMux(t, s, nil), http.MethodPost, "/init", "")
			require.Equal(t, tc.want, w.Code)

			got := decode(t, w)
			if tc.code == "" {
				require.NotEmpty(t, got["message"])
				return
			}
			require.Equal(t, tc.code, got["code"])
			require.NotEmpty(t, got["error"])
		})
	}
}

func TestSend_MapsResultToStatus(t *testing.T) {
	t.Parallel()

	s := &fakeSession{}
	mux := newMux(t, s, nil)

	w := do(mux, http.MethodPost, "/send", `{"to":"+38344123456","message":"Mirë se vini"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["success"])
	require.Equal(t, []string{"+38344123456:Mirë se vini"}, s.sent)

	w = do(mux, http.MethodPost, "/send", `{"to":"","message":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	s.sendErr = messaging.ErrNotReady
	w = do(mux, http.MethodPost, "/send", `{"to":"38344123456","message":"x"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	got := decode(t, w)
	require.Equal(t, messaging.DetailSessionNotReady, got["details"])
	require.NotEmpty(t, got["error"])

	s.sendErr = messaging.ErrInvalidPhone
	w = do(mux, http.MethodPost, "/send", `{"to":"abc","message":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	s.sendErr = messaging.DeliveryError{Op: "send", Err: fmt.Errorf("timeout")}
	w = do(mux, http.MethodPost, "/send", `{"to":"38344123456","message":"x"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRestart(t *testing.T) {
	t.Parallel()

	s := &fakeSession{}
	mux := newMux(t, s, nil)

	w := do(mux, http.MethodPost, "/restart", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["success"])
	require.Equal(t, 1, s.restarts)

	s.restartErr = fmt.Errorf("driver stuck")
	w = do(mux, http.MethodPost, "/restart", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "driver stuck", decode(t, w)["error"])
}

func TestInvitationSend(t *testing.T) {
	t.Parallel()

	inv := &fakeInvitations{res: messaging.Result{Success: true}}
	mux := newMux(t, &fakeSession{}, inv)

	w := do(mux, http.MethodPost, "/invitations/send", `{"invitationId":" inv-1 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"inv-1"}, inv.ids)

	inv.err = invite.ErrNotFound
	w = do(mux, http.MethodPost, "/invitations/send", `{"invitationId":"nope"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	inv.err = nil
	inv.res = messaging.Result{Error: "guest has no phone number", Details: messaging.DetailInvalidPhone}
	w = do(mux, http.MethodPost, "/invitations/send", `{"invitationId":"inv-2"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	inv.res = messaging.Result{Error: "invitation has no response link", Details: messaging.DetailInvalidInput}
	w = do(mux, http.MethodPost, "/invitations/send", `{"invitationId":"inv-3"}`)
	require.Equal(t, http.StatusBadRequest, w.Code, "a request that can never succeed is not a gateway error")

	w = do(newMux(t, &fakeSession{}, nil), http.MethodPost, "/invitations/send", `{"invitationId":"inv-1"}`)
	require.Equal(t, http.StatusNotFound, w.Code, "route is absent without an invitation service")
}
