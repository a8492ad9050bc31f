package notifyapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dasma/cmd/internal/notify"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, vapid string) (*Handler, *notify.InMemoryStore, *http.ServeMux) {
	t.Helper()

	st := notify.NewInMemoryStore()
	st.AddProject("proj-1", "U1")
	st.AddCollaborator("proj-1", "U2", notify.RolePlanner)

	log := slog.New(slog.DiscardHandler)
	d, err := notify.NewDispatcher(st, st, notify.WithLogger(log))
	require.NoError(t, err)

	h, err := NewHandler(log, d, st, vapid)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return h, st, mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestRSVP_WaitReturnsReport(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestHandler(t, "")
	w := do(mux, http.MethodPost, "/notify/rsvp?wait=true",
		`{"projectId":"proj-1","status":"attending","guestNames":["Arta Krasniqi"],"guestCount":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Recipients []string        `json:"recipients"`
		Created    []notify.Record `json:"created"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, []string{"U1", "U2"}, got.Recipients)
	require.Len(t, got.Created, 2)
}

func TestRSVP_BackgroundDispatch(t *testing.T) {
	t.Parallel()

	h, st, mux := newTestHandler(t, "")
	w := do(mux, http.MethodPost, "/notify/rsvp",
		`{"projectId":"proj-1","status":"maybe","guestNames":["Blerim"],"guestCount":1}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	h.dispatcher.Wait()
	recs, err := st.ListByRecipient(context.Background(), notify.ListInput{RecipientID: "U2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	w = do(mux, http.MethodPost, "/notify/rsvp",
		`{"projectId":"proj-1","status":"maybe","guestNames":["Blerim"],"guestCount":1}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRSVP_RejectsInvalidBody(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestHandler(t, "")
	tests := []string{
		`{"projectId":"proj-1","status":"yes"}`,
		`{"status":"attending"}`,
		`{"projectId":"proj-1","status":"attending","guestCount":-1}`,
		`not json`,
	}
	for _, body := range tests {
		w := do(mux, http.MethodPost, "/notify/rsvp", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w := do(mux, http.MethodGet, "/notify/rsvp", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestListAndMarkSeen(t *testing.T) {
	t.Parallel()

	_, st, mux := newTestHandler(t, "")
	now := time.Now().UTC()
	require.NoError(t, st.InsertMany(context.Background(), []notify.Record{
		{ID: "a", RecipientID: "U1", Title: "t", Message: "m1", CreatedAt: now.Add(-time.Minute)},
		{ID: "b", RecipientID: "U1", Title: "t", Message: "m2", CreatedAt: now},
	}))

	w := do(mux, http.MethodGet, "/notifications?recipientId=U1&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Notifications []notify.Record `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 2)
	require.Equal(t, "b", list.Notifications[0].ID)

	w = do(mux, http.MethodPost, "/notifications/seen", `{"recipientId":"U1","ids":["a"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = do(mux, http.MethodGet, "/notifications?recipientId=U1&unseen=true", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)

	w = do(mux, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(mux, http.MethodGet, "/notifications?recipientId=U1&limit=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicKey(t *testing.T) {
	t.Parallel()

	_, _, mux := newTestHandler(t, "")
	require.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/push/public-key", "").Code)

	_, _, mux = newTestHandler(t, "BPubKey")
	w := do(mux, http.MethodGet, "/push/public-key", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"publicKey":"BPubKey"}`, w.Body.String())
}
