// ABOUTME: Tiered fixed-window admission control keyed by caller identity.
// ABOUTME: Stale windows are swept in the background, bounding memory.

// Package ratelimit admits or rejects requests against per-identity,
// per-tier request windows. Admission is non-blocking: a caller over the
// limit is rejected with a retry-after hint, never queued.
package ratelimit

import (
	"sync"
	"time"
)

// Tier names a class of routes sharing one limit configuration.
type Tier string

// Route tiers.
const (
	// TierStandard covers every API route.
	TierStandard Tier = "standard"
	// TierStrict additionally covers state-mutating and sensitive routes.
	TierStrict Tier = "strict"
)

// Limit configures one tier's window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until the window resets. Set on rejection.
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Gate tracks request windows per (tier, identity). Expired windows are
// discarded rather than accumulated, so memory is bounded by the number of
// identities active within one window.
type Gate struct {
	mu      sync.Mutex
	limits  map[Tier]Limit
	windows map[Tier]map[string]*window
	done    chan struct{}
	closed  bool

	// now is swappable for tests.
	now func() time.Time
}

// New creates a gate with the given tier limits and starts the background
// sweep of stale windows. A tier with Requests <= 0 admits everything.
func New(standard, strict Limit) *Gate {
	g := &Gate{
		limits: map[Tier]Limit{
			TierStandard: standard,
			TierStrict:   strict,
		},
		windows: map[Tier]map[string]*window{
			TierStandard: make(map[string]*window),
			TierStrict:   make(map[string]*window),
		},
		done: make(chan struct{}),
		now:  time.Now,
	}
	go g.sweep()
	return g
}

// Allow evaluates one request from identity against the tier's window.
func (g *Gate) Allow(identity string, tier Tier) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limits[tier]
	if !ok || limit.Requests <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	now := g.now()
	byID := g.windows[tier]
	w := byID[identity]
	if w == nil || now.Sub(w.start) >= limit.Window {
		w = &window{start: now}
		byID[identity] = w
	}

	if w.count >= limit.Requests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.start.Add(limit.Window).Sub(now),
		}
	}

	w.count++
	return Decision{Allowed: true, Remaining: limit.Requests - w.count}
}

// sweep periodically drops windows older than their tier's duration.
func (g *Gate) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runSweep()
		case <-g.done:
			return
		}
	}
}

func (g *Gate) runSweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for tier, byID := range g.windows {
		ttl := g.limits[tier].Window
		for id, w := range byID {
			if now.Sub(w.start) >= ttl {
				delete(byID, id)
			}
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
