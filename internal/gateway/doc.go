// Package gateway wires the session state machine, event hub, rate gate,
// and stats collector behind a single HTTP server.
//
// # Route surface
//
// Liveness:
//
//	GET /health
//
// Session control (strict rate tier):
//
//	POST /api/session/start
//	POST /api/session/restart
//	POST /api/session/logout    (requires a ready session)
//
// Messaging and chat pass-throughs (readiness-gated; the gateway never
// persists chat history, every read goes to the live client):
//
//	POST   /api/messages
//	POST   /api/messages/media
//	GET    /api/chats
//	GET    /api/chats/{id}/messages
//	POST   /api/chats/{id}/typing
//	POST   /api/chats/{id}/read
//	GET    /api/contacts
//	POST   /api/groups
//	POST   /api/groups/{id}/participants
//	DELETE /api/groups/{id}/participants
//
// Observation:
//
//	GET /api/status
//	GET /api/qr
//	GET /api/stats
//	GET /api/events   (SSE)
//	GET /api/ws       (WebSocket, same frames as SSE)
//
// # Admission control
//
// Every /api route passes the bearer-auth middleware, then a per-identity
// rate window (standard tier everywhere, strict on session control and
// sends). Session-dependent routes additionally require the ready phase and
// answer 412 with reason "not_ready" otherwise.
package gateway
