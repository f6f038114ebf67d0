// ABOUTME: Event types and payload shapes pushed to subscribers.
// ABOUTME: One constructor per recognized type; frames are encoded once.

package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/whatsgate/whatsgate/internal/wa"
)

// Recognized event types.
const (
	EventQR           = "qr"
	EventReady        = "ready"
	EventInitializing = "initializing"
	EventNewMessage   = "new_message"
	EventMessageAck   = "message_ack"
	EventDisconnected = "disconnected"
	EventAuthFailure  = "auth_failure"
)

// Event is an immutable, typed notification. Data carries a fixed payload
// shape per Type; use the constructors below rather than building one by
// hand.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	EmittedAt time.Time `json:"-"`
}

// QRData is the payload for qr events.
type QRData struct {
	QR string `json:"qr"`
}

// ReadyData is the payload for ready events.
type ReadyData struct {
	Identity wa.Identity `json:"identity"`
}

// DisconnectedData is the payload for disconnected events.
type DisconnectedData struct {
	Reason string `json:"reason"`
}

// AuthFailureData is the payload for auth_failure events.
type AuthFailureData struct {
	Message string `json:"message"`
}

// QREvent builds a qr event carrying the current QR payload.
func QREvent(qr string) Event {
	return Event{Type: EventQR, Data: QRData{QR: qr}, EmittedAt: time.Now()}
}

// ReadyEvent builds a ready event carrying the authenticated identity.
func ReadyEvent(identity wa.Identity) Event {
	return Event{Type: EventReady, Data: ReadyData{Identity: identity}, EmittedAt: time.Now()}
}

// InitializingEvent builds an initializing event with an empty payload.
func InitializingEvent() Event {
	return Event{Type: EventInitializing, Data: struct{}{}, EmittedAt: time.Now()}
}

// NewMessageEvent builds a new_message event carrying an inbound message.
func NewMessageEvent(msg wa.Message) Event {
	return Event{Type: EventNewMessage, Data: msg, EmittedAt: time.Now()}
}

// MessageAckEvent builds a message_ack event carrying a delivery update.
func MessageAckEvent(ack wa.Ack) Event {
	return Event{Type: EventMessageAck, Data: ack, EmittedAt: time.Now()}
}

// DisconnectedEvent builds a disconnected event carrying the reason.
func DisconnectedEvent(reason string) Event {
	return Event{Type: EventDisconnected, Data: DisconnectedData{Reason: reason}, EmittedAt: time.Now()}
}

// AuthFailureEvent builds an auth_failure event carrying the failure message.
func AuthFailureEvent(message string) Event {
	return Event{Type: EventAuthFailure, Data: AuthFailureData{Message: message}, EmittedAt: time.Now()}
}

// heartbeatFrame is the comment frame written on each liveness sweep.
// Consumers must treat it as a keep-alive, not a data event.
var heartbeatFrame = []byte(": heartbeat\n\n")

// encodeFrame serializes an event into its wire frame.
func encodeFrame(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s event: %w", e.Type, err)
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
