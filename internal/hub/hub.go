// ABOUTME: Subscriber registry and event fan-out for the gateway.
// ABOUTME: Serializes once per publish; prunes sinks that fail a bounded write.

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultBuffer is the per-subscriber frame buffer. A subscriber whose
	// buffer is full has stopped draining and is treated as dead.
	defaultBuffer = 64

	defaultHeartbeatInterval = 30 * time.Second
)

// Subscriber is one long-lived event consumer. Frames are drained by the
// owning transport handler (SSE or WebSocket) until the channel closes.
type Subscriber struct {
	ID       string
	JoinedAt time.Time
	frames   chan []byte
}

// Frames returns the channel of encoded wire frames for this subscriber.
// The channel is closed when the subscriber is removed from the hub.
func (s *Subscriber) Frames() <-chan []byte {
	return s.frames
}

// SnapshotFunc produces the synthetic event a late joiner receives so it
// sees the current session state without waiting for the next transition.
// ok is false when the current phase has no snapshot event.
type SnapshotFunc func() (e Event, ok bool)

// Hub fans events out to all registered subscribers.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	closed   bool
	snapshot SnapshotFunc
	buffer   int
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// New creates a hub and starts its liveness sweep. snapshot may be nil, in
// which case joiners receive no initial frame. Zero interval and buffer
// select the defaults.
func New(interval time.Duration, buffer int, snapshot SnapshotFunc, logger *slog.Logger) *Hub {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		subs:     make(map[string]*Subscriber),
		snapshot: snapshot,
		buffer:   buffer,
		interval: interval,
		logger:   logger.With("component", "hub"),
		done:     make(chan struct{}),
	}
	go h.sweepLoop()
	return h
}

// Subscribe registers a new subscriber whose first frame, if any, is the
// current status snapshot. The returned handle is used to drain frames and
// later Unsubscribe.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New().String(),
		JoinedAt: time.Now(),
		frames:   make(chan []byte, h.buffer),
	}

	// The channel is unshared until the subscriber is registered: queueing
	// the snapshot now cannot block, and cannot race a prune or Close
	// closing the channel underneath the send.
	if h.snapshot != nil {
		if e, ok := h.snapshot(); ok {
			if frame, err := encodeFrame(e); err == nil {
				sub.frames <- frame
			} else {
				h.logger.Error("failed to encode snapshot event", "error", err)
			}
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.frames)
		return sub
	}
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its frame channel. Idempotent.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.frames)
	h.logger.Debug("subscriber removed", "sub_id", id)
}

// Publish encodes the event once and writes the frame to every current
// subscriber. A subscriber whose buffer is full is collected during the pass
// and removed afterward; one dead sink never aborts delivery to the rest.
func (h *Hub) Publish(e Event) {
	frame, err := encodeFrame(e)
	if err != nil {
		h.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}
	if dead := h.fanOut(frame); len(dead) > 0 {
		h.prune(dead, "slow subscriber")
	}
}

// fanOut writes a frame to every subscriber with a bounded, non-blocking
// send and returns the ids that failed. The subscriber set is never mutated
// during the pass; the read lock also keeps channels from being closed
// underneath the sends.
func (h *Hub) fanOut(frame []byte) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var dead []string
	for id, sub := range h.subs {
		select {
		case sub.frames <- frame:
		default:
			dead = append(dead, id)
		}
	}
	return dead
}

func (h *Hub) prune(ids []string, why string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		h.logger.Debug("pruning subscriber", "sub_id", id, "reason", why)
		h.removeLocked(id)
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// sweepLoop writes a heartbeat comment frame to every subscriber on a fixed
// interval. Subscribers that cannot take the frame are pruned; half-closed
// connections surface here within one interval even when the transport never
// reports the close.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if dead := h.fanOut(heartbeatFrame); len(dead) > 0 {
				h.prune(dead, "failed heartbeat")
			}
		case <-h.done:
			return
		}
	}
}

// Close stops the sweep and closes every subscriber channel. Safe to call
// multiple times.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for id := range h.subs {
		h.removeLocked(id)
	}
	h.logger.Debug("hub closed")
}
