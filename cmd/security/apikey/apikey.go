package apikey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// HeaderName is the request header carrying the key.
const HeaderName = "X-API-KEY"

// Verifier checks presented keys against the configured one.
type Verifier struct {
	digest  []byte
	enabled bool
}

// NewVerifier builds a Verifier. A blank key yields a disabled verifier.
func NewVerifier(key string) Verifier {
	key = strings.TrimSpace(key)
	if key == "" {
		return Verifier{}
	}
	sum := sha256.Sum256([]byte(key))
	return Verifier{digest: sum[:], enabled: true}
}

// Enabled reports whether a key is configured.
func (v Verifier) Enabled() bool { return v.enabled }

// Verify returns nil when the presented key matches (or verification is disabled).
func (v Verifier) Verify(presented string) error {
	if !v.enabled {
		return nil
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrKeyMissing
	}
	sum := sha256.Sum256([]byte(presented))
	if !hmac.Equal(sum[:], v.digest) {
		return ErrKeyMismatch
	}
	return nil
}

// Fingerprint returns a short, log-safe identifier of the configured key.
func (v Verifier) Fingerprint() string {
	if !v.enabled {
		return ""
	}
	return hex.EncodeToString(v.digest[:4])
}

// ProtocolPrefix marks a websocket subprotocol that carries the key, for
// browser clients that cannot set headers: "dasma.key.<key>". The key must then
// consist of token characters.
const ProtocolPrefix = "dasma.key."

// Presented returns the key offered by r: the header first, then a
// Sec-WebSocket-Protocol entry with ProtocolPrefix.
func Presented(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderName)); k != "" {
		return k
	}
	for _, line := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(line, ",") {
			if k, ok := strings.CutPrefix(strings.TrimSpace(p), ProtocolPrefix); ok && k != "" {
				return k
			}
		}
	}
	return ""
}
