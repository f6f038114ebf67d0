// ABOUTME: Admission-control middleware for API routes
// ABOUTME: Per-identity rate windows and the readiness gate, plus JSON helpers

package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/whatsgate/whatsgate/internal/auth"
	"github.com/whatsgate/whatsgate/internal/ratelimit"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// clientHandler is a handler that needs the live automation client. The
// readiness gate resolves it so handlers never see a nil client.
type clientHandler func(w http.ResponseWriter, r *http.Request, client wa.Client)

// rateIdentity resolves the rate-limit bucket for a request: the
// authenticated caller's key when present, else the host part of the
// remote address.
func rateIdentity(r *http.Request) string {
	if caller := auth.FromContext(r.Context()); caller != nil {
		return caller.RateKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limited enforces the tier's request window for the caller's identity.
// Rejections answer 429 with the window reset in both the Retry-After
// header and the JSON body.
func (g *Gateway) limited(tier ratelimit.Tier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision := g.gate.Allow(rateIdentity(r), tier)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":          "rate_limited",
				"retry_after_ms": decision.RetryAfter.Milliseconds(),
			})
			return
		}
		next(w, r)
	}
}

// requireReady admits the request only while the session is in the ready
// phase, and hands the handler the live client. The phase check and the
// client borrow are separate reads; a disconnect between them surfaces as
// the same 412 the phase check would have produced.
func (g *Gateway) requireReady(next clientHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.machine.CurrentStatus().Ready() {
			writeError(w, http.StatusPreconditionFailed, "not_ready")
			return
		}
		client := g.machine.Client()
		if client == nil {
			writeError(w, http.StatusPreconditionFailed, "not_ready")
			return
		}
		next(w, r, client)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
