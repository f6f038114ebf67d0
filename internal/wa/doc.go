// ABOUTME: Opaque interface to the external WhatsApp automation client.
// ABOUTME: Defines lifecycle callbacks, command methods, and a fake for tests.

// Package wa abstracts the session-backed automation client the gateway
// fronts. The gateway never speaks the wire protocol itself: it creates at
// most one Client through a Factory, receives lifecycle and message
// notifications through Handlers, and invokes command methods on behalf of
// API callers.
//
// The only in-tree implementation is Fake, a deterministic in-memory client
// used by tests and by `whatsgate serve` in fake client mode. Real bindings
// implement Client and Factory out of tree.
package wa
