package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dasma/cmd/security/apikey"

	"github.com/stretchr/testify/require"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	require.True(t, blocked)
	require.Equal(t, 3*time.Minute, retry)

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	require.False(t, blocked)
	require.Zero(t, retry)
}

func TestWithAPIKey_ThrottlesRepeatedFailures(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 20, 12, 0, 0, 0, time.UTC)
	th := newFailureThrottle(2, time.Minute)
	th.now = func() time.Time { return now }

	h := WithAPIKey(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), apikey.NewVerifier("s3cret"), []string{"/send"}, th, slog.New(slog.NewTextHandler(io.Discard, nil)))

	do := func(remote, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		req.RemoteAddr = remote
		if key != "" {
			req.Header.Set(apikey.HeaderName, key)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusUnauthorized, do("10.0.0.1:5000", "bad").Code)
	require.Equal(t, http.StatusUnauthorized, do("10.0.0.1:5001", "bad").Code)

	rr := do("10.0.0.1:5002", "s3cret")
	require.Equal(t, http.StatusTooManyRequests, rr.Code, "locked out even with the right key")
	require.Equal(t, "60", rr.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, do("10.0.0.2:5000", "s3cret").Code, "other peers are unaffected")

	now = now.Add(61 * time.Second)
	require.Equal(t, http.StatusOK, do("10.0.0.1:5003", "s3cret").Code)
}

func TestNewFailureThrottle_DisabledIsNil(t *testing.T) {
	require.Nil(t, newFailureThrottle(0, time.Minute))
	var th *failureThrottle
	blocked, _ := th.blocked("10.0.0.1")
	require.False(t, blocked)
	th.fail("10.0.0.1")
}
