// ABOUTME: State machine translating client callbacks into phase transitions.
// ABOUTME: Owns the single client instance; publishes events under its lock.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/whatsgate/whatsgate/internal/hub"
	"github.com/whatsgate/whatsgate/internal/stats"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// ErrNotReady is returned by operations that require phase ready.
var ErrNotReady = errors.New("session not ready")

const defaultRestartDelay = 2 * time.Second

// EventSink receives the events the machine emits. Publish must not block
// for unbounded time; the hub satisfies this with bounded per-subscriber
// writes.
type EventSink interface {
	Publish(e hub.Event)
}

// genAny bypasses the stale-cycle check. Used for transitions the machine
// applies to itself rather than on behalf of a launched client.
const genAny = ^uint64(0)

// Machine is the canonical owner of session status. All mutation happens
// under one mutex, and events are published while it is held so subscribers
// observe transitions in the order they were applied.
//
// Every start cycle is stamped with a generation. Restart, logout, and close
// advance it, so a launch that was in flight when the cycle ended finds its
// stamp stale and discards its client instead of installing a second one.
// The handlers given to each client carry the same stamp, which keeps a
// superseded instance's callbacks from driving a newer cycle.
type Machine struct {
	mu       sync.Mutex
	phase    Phase
	qr       string
	identity *wa.Identity
	client   wa.Client
	gen      uint64

	factory      wa.Factory
	sink         EventSink
	stats        *stats.Collector
	logger       *slog.Logger
	restartDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a machine in PhaseUninitialized. No client is launched until
// RequestStart.
func New(factory wa.Factory, sink EventSink, collector *stats.Collector, restartDelay time.Duration, logger *slog.Logger) *Machine {
	if restartDelay <= 0 {
		restartDelay = defaultRestartDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		phase:        PhaseUninitialized,
		factory:      factory,
		sink:         sink,
		stats:        collector,
		logger:       logger.With("component", "session"),
		restartDelay: restartDelay,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Handlers returns an ungated callback set acting as the current cycle.
// Exposed so tests can drive transitions without a client.
func (m *Machine) Handlers() wa.Handlers {
	return m.handlersFor(genAny)
}

// handlersFor builds the callback set for one start cycle. Callbacks from a
// superseded cycle are dropped at the machine boundary.
func (m *Machine) handlersFor(gen uint64) wa.Handlers {
	return wa.Handlers{
		OnQR:            func(code string) { m.applyQR(gen, code) },
		OnAuthenticated: func() { m.applyAuthenticated(gen) },
		OnReady:         func(id wa.Identity) { m.applyReady(gen, id) },
		OnDisconnected:  func(reason string) { m.applyDisconnected(gen, reason) },
		OnAuthFailure:   func(msg string) { m.applyAuthFailure(gen, msg) },
		OnMessage:       func(msg wa.Message) { m.handleMessage(gen, msg) },
		OnAck:           func(ack wa.Ack) { m.handleAck(gen, ack) },
	}
}

// CurrentStatus returns an immutable snapshot. Never blocks on I/O.
func (m *Machine) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Phase: m.phase, QR: m.qr}
	if m.identity != nil {
		id := *m.identity
		st.Identity = &id
	}
	return st
}

// SnapshotEvent derives the synthetic event a late-joining subscriber
// receives: qr, ready, or initializing depending on phase, or nothing for
// phases with no subscriber-visible state.
func (m *Machine) SnapshotEvent() (hub.Event, bool) {
	st := m.CurrentStatus()
	switch st.Phase {
	case PhaseQRPending:
		return hub.QREvent(st.QR), true
	case PhaseReady:
		return hub.ReadyEvent(*st.Identity), true
	case PhaseInitializing, PhaseAuthenticated:
		return hub.InitializingEvent(), true
	default:
		return hub.Event{}, false
	}
}

// RequestStart begins a new init cycle. Legal only from uninitialized,
// disconnected, or auth_failed; any other phase absorbs the call, which is
// what makes concurrent starts launch exactly one client. Launch failures
// surface as a later auth_failure transition, never as an error here.
func (m *Machine) RequestStart() {
	m.mu.Lock()
	switch m.phase {
	case PhaseUninitialized, PhaseDisconnected, PhaseAuthFailed:
	default:
		phase := m.phase
		m.mu.Unlock()
		m.logger.Debug("start request absorbed", "phase", phase)
		return
	}
	m.phase = PhaseInitializing
	m.qr = ""
	m.identity = nil
	m.gen++
	gen := m.gen
	stale := m.client
	m.client = nil
	m.logger.Info("session initializing")
	m.mu.Unlock()

	// A disconnect callback leaves the old instance behind; reclaim it before
	// launching a replacement.
	if stale != nil {
		if err := stale.Stop(); err != nil {
			m.logger.Warn("stopping stale client", "error", err)
		}
	}

	go m.launch(gen)
}

// launch creates and starts the client for one cycle. Runs outside the lock
// because a real client launch is slow; by the time the factory returns the
// cycle may already have been superseded, in which case the fresh instance is
// discarded rather than installed alongside the replacement's.
func (m *Machine) launch(gen uint64) {
	client, err := m.factory(m.handlersFor(gen))
	if err != nil {
		m.logger.Error("client launch failed", "error", err)
		m.applyAuthFailure(gen, "failed to launch client: "+err.Error())
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("discarding superseded launch")
		if err := client.Stop(); err != nil {
			m.logger.Warn("stopping superseded client", "error", err)
		}
		return
	}
	m.client = client
	m.mu.Unlock()

	if err := client.Start(m.ctx); err != nil {
		m.logger.Error("client start failed", "error", err)
		m.mu.Lock()
		if m.gen == gen && m.client == client {
			m.client = nil
		}
		m.mu.Unlock()
		if stopErr := client.Stop(); stopErr != nil {
			m.logger.Warn("stopping failed client", "error", stopErr)
		}
		m.applyAuthFailure(gen, "failed to start client: "+err.Error())
	}
}

// RequestRestart tears down any live client, reports the disconnect, and
// starts a fresh init cycle after a short delay so the previous instance
// can release its resources. Returns immediately.
func (m *Machine) RequestRestart() {
	m.mu.Lock()
	m.gen++
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		if err := client.Stop(); err != nil {
			m.logger.Warn("stopping client for restart", "error", err)
		}
	}
	m.applyDisconnected(genAny, "RESTART")

	go func() {
		select {
		case <-time.After(m.restartDelay):
			m.RequestStart()
		case <-m.ctx.Done():
		}
	}()
}

// RequestLogout invalidates the external session. Only valid from ready.
func (m *Machine) RequestLogout() error {
	m.mu.Lock()
	if m.phase != PhaseReady {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.gen++
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		if err := client.Logout(); err != nil {
			m.logger.Warn("client logout", "error", err)
		}
		if err := client.Stop(); err != nil {
			m.logger.Warn("stopping client after logout", "error", err)
		}
	}
	m.applyDisconnected(genAny, "LOGOUT")
	return nil
}

// Client returns the live client for pass-through commands, or nil. Callers
// borrow it for a single operation and must not hold it across transitions.
func (m *Machine) Client() wa.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Close stops the client and releases the machine's resources.
func (m *Machine) Close() {
	m.cancel()

	m.mu.Lock()
	m.gen++
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		if err := client.Stop(); err != nil {
			m.logger.Warn("stopping client on close", "error", err)
		}
	}
}

// publishLocked emits an event while the machine lock is held. The sink's
// Publish is non-blocking, so this preserves emit order without stalling
// transitions.
func (m *Machine) publishLocked(e hub.Event) {
	if m.sink != nil {
		m.sink.Publish(e)
	}
}

// staleLocked reports whether gen belongs to a superseded cycle. Callers
// hold m.mu.
func (m *Machine) staleLocked(gen uint64) bool {
	if gen != genAny && gen != m.gen {
		m.logger.Debug("callback from superseded cycle ignored")
		return true
	}
	return false
}

func (m *Machine) applyQR(gen uint64, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(gen) {
		return
	}
	switch m.phase {
	case PhaseInitializing, PhaseQRPending:
	default:
		m.logger.Debug("qr ignored", "phase", m.phase)
		return
	}
	// The phone may rescan; every fresh code replaces the previous one.
	m.phase = PhaseQRPending
	m.qr = code
	m.logger.Info("qr code received")
	m.publishLocked(hub.QREvent(code))
}

func (m *Machine) applyAuthenticated(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(gen) {
		return
	}
	switch m.phase {
	case PhaseInitializing, PhaseQRPending:
	default:
		m.logger.Debug("authenticated ignored", "phase", m.phase)
		return
	}
	m.phase = PhaseAuthenticated
	m.qr = ""
	m.logger.Info("session authenticated")
}

func (m *Machine) applyReady(gen uint64, identity wa.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(gen) {
		return
	}
	if m.phase != PhaseAuthenticated {
		m.logger.Debug("ready ignored", "phase", m.phase)
		return
	}
	m.phase = PhaseReady
	m.qr = ""
	id := identity
	m.identity = &id
	m.logger.Info("session ready", "account", identity.AccountID, "name", identity.DisplayName)
	m.publishLocked(hub.ReadyEvent(identity))
}

func (m *Machine) applyDisconnected(gen uint64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(gen) {
		return
	}
	// Repeated disconnects carry no new information.
	if m.phase == PhaseDisconnected {
		return
	}
	m.phase = PhaseDisconnected
	m.qr = ""
	m.identity = nil
	m.logger.Warn("session disconnected", "reason", reason)
	m.publishLocked(hub.DisconnectedEvent(reason))
}

func (m *Machine) applyAuthFailure(gen uint64, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.staleLocked(gen) {
		return
	}
	m.phase = PhaseAuthFailed
	m.qr = ""
	m.identity = nil
	if m.stats != nil {
		m.stats.Error()
	}
	m.logger.Error("session auth failure", "message", message)
	m.publishLocked(hub.AuthFailureEvent(message))
}

func (m *Machine) handleMessage(gen uint64, msg wa.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleLocked(gen) {
		return
	}
	if m.stats != nil {
		m.stats.MessageReceived()
	}
	m.publishLocked(hub.NewMessageEvent(msg))
}

func (m *Machine) handleAck(gen uint64, ack wa.Ack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleLocked(gen) {
		return
	}
	m.publishLocked(hub.MessageAckEvent(ack))
}
