// ABOUTME: Process-wide monotonic counters for gateway observability.
// ABOUTME: Increment-only; snapshots are copies combined with the start time.

package stats

import (
	"sync/atomic"
	"time"
)

// Collector holds cumulative counters since process start. All methods are
// safe for concurrent use; counters only ever increase.
type Collector struct {
	startedAt time.Time
	sent      atomic.Int64
	received  atomic.Int64
	errors    atomic.Int64
}

// New creates a collector stamped with the current time.
func New() *Collector {
	return &Collector{startedAt: time.Now()}
}

// MessageSent records one outbound message.
func (c *Collector) MessageSent() { c.sent.Add(1) }

// MessageReceived records one inbound message.
func (c *Collector) MessageReceived() { c.received.Add(1) }

// Error records one lifecycle fault.
func (c *Collector) Error() { c.errors.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Sent      int64     `json:"messages_sent"`
	Received  int64     `json:"messages_received"`
	Errors    int64     `json:"errors"`
	StartedAt time.Time `json:"started_at"`
}

// Uptime derives the process uptime from the snapshot's start time.
func (s Snapshot) Uptime() time.Duration {
	return time.Since(s.StartedAt)
}

// Snapshot returns a copy of the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Sent:      c.sent.Load(),
		Received:  c.received.Load(),
		Errors:    c.errors.Load(),
		StartedAt: c.startedAt,
	}
}
