package app

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"dasma/cmd/internal/httpx"
)

// failureThrottle blocks a client IP after too many rejected API keys inside a
// sliding window. State is per process.
type failureThrottle struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	byIP map[string][]time.Time
}

// sweepAt bounds the map; stale IPs are pruned once it grows past this.
const sweepAt = 4096

func newFailureThrottle(max int, window time.Duration) *failureThrottle {
	if max <= 0 || window <= 0 {
		return nil
	}
	return &failureThrottle{
		max:    max,
		window: window,
		now:    time.Now,
		byIP:   make(map[string][]time.Time),
	}
}

// blocked reports whether ip is locked out and for how long.
func (t *failureThrottle) blocked(ip string) (bool, time.Duration) {
	if t == nil || ip == "" {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return evaluateWindowThrottle(t.now(), t.byIP[ip], t.max, t.window)
}

func (t *failureThrottle) fail(ip string) {
	if t == nil || ip == "" {
		return
	}
	now := t.now()
	cut := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.byIP[ip] = append(recentSince(t.byIP[ip], cut), now)
	if len(t.byIP) > sweepAt {
		for k, v := range t.byIP {
			if kept := recentSince(v, cut); len(kept) == 0 {
				delete(t.byIP, k)
			} else {
				t.byIP[k] = kept
			}
		}
	}
}

func recentSince(ts []time.Time, cut time.Time) []time.Time {
	out := ts[:0]
	for _, at := range ts {
		if !at.Before(cut) {
			out = append(out, at)
		}
	}
	return out
}

// evaluateWindowThrottle blocks once max failures fall inside window. The retry
// hint is when the oldest counted failure ages out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, at := range failures {
		if at.Before(cut) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// clientIP is the transport peer. Forwarded headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
