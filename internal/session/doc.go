// ABOUTME: Session lifecycle state machine for the automation client.
// ABOUTME: Sole owner of phase, QR payload, identity, and the live client.

// Package session tracks the authentication and readiness status of the
// external automation session. The Machine is the single writer of session
// state and the single producer of hub events: client callbacks are turned
// into phase transitions, and each transition that carries information for
// subscribers publishes exactly one event.
//
// The external client is an exclusively-owned resource. Only the Machine
// creates, replaces, or destroys it, and at most one instance is live at a
// time; duplicate start requests are absorbed while a launch is in flight.
package session
