// ABOUTME: Phase enum for the session lifecycle.
// ABOUTME: String and JSON forms match the status API wire names.

package session

import "encoding/json"

// Phase is the discrete lifecycle status of the session.
type Phase int

// Lifecycle phases, in rough progression order.
const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseQRPending
	PhaseAuthenticated
	PhaseReady
	PhaseDisconnected
	PhaseAuthFailed
)

var phaseNames = map[Phase]string{
	PhaseUninitialized: "uninitialized",
	PhaseInitializing:  "initializing",
	PhaseQRPending:     "qr_pending",
	PhaseAuthenticated: "authenticated",
	PhaseReady:         "ready",
	PhaseDisconnected:  "disconnected",
	PhaseAuthFailed:    "auth_failed",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes the phase as its wire name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}
