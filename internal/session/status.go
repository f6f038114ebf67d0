// ABOUTME: Immutable status snapshot returned by the state machine.
// ABOUTME: Exactly one of QR or Identity is populated, or neither.

package session

import "github.com/whatsgate/whatsgate/internal/wa"

// Status is a point-in-time copy of the session state. QR is non-empty only
// in PhaseQRPending; Identity is non-nil only from PhaseReady until the next
// disconnect.
type Status struct {
	Phase    Phase
	QR       string
	Identity *wa.Identity
}

// HasQR reports whether a QR payload is currently available for scanning.
func (s Status) HasQR() bool {
	return s.QR != ""
}

// Ready reports whether session-dependent operations may proceed.
func (s Status) Ready() bool {
	return s.Phase == PhaseReady
}
