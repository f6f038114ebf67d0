// ABOUTME: Fan-out hub delivering lifecycle and message events to subscribers.
// ABOUTME: Bounded per-subscriber writes, heartbeat sweep, dead-sink pruning.

// Package hub maintains the set of long-lived event subscribers and fans
// events out to all of them. Delivery is at-most-once and best-effort: a
// subscriber that cannot keep up is pruned rather than allowed to stall the
// others. Events are encoded once per publish into the wire frame
//
//	data: {"type":...,"data":...}\n\n
//
// and a periodic `: heartbeat` comment frame both keeps intermediaries from
// timing connections out and flushes out half-closed subscribers.
package hub
