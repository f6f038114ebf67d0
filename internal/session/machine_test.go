// ABOUTME: Tests for the lifecycle state machine transitions and requests.
// ABOUTME: Covers idempotent starts, event emission, and fault handling.

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/whatsgate/internal/hub"
	"github.com/whatsgate/whatsgate/internal/stats"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// recordSink captures published events in order.
type recordSink struct {
	mu     sync.Mutex
	events []hub.Event
}

func (s *recordSink) Publish(e hub.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// nopClient is an inert client whose lifecycle the tests drive by hand.
type nopClient struct{}

func (nopClient) Start(ctx context.Context) error { return nil }
func (nopClient) Stop() error                     { return nil }
func (nopClient) Logout() error                   { return nil }
func (nopClient) SendText(ctx context.Context, chatID, body string) (*wa.Message, error) {
	return nil, nil
}
func (nopClient) SendMedia(ctx context.Context, chatID string, media wa.Media, caption string) (*wa.Message, error) {
	return nil, nil
}
func (nopClient) Chats(ctx context.Context) ([]wa.Chat, error) { return nil, nil }
func (nopClient) ChatMessages(ctx context.Context, chatID string, limit int) ([]wa.Message, error) {
	return nil, nil
}
func (nopClient) Contacts(ctx context.Context) ([]wa.Contact, error) { return nil, nil }
func (nopClient) CreateGroup(ctx context.Context, name string, participants []string) (*wa.Group, error) {
	return nil, nil
}
func (nopClient) AddParticipants(ctx context.Context, groupID string, participants []string) error {
	return nil
}
func (nopClient) RemoveParticipants(ctx context.Context, groupID string, participants []string) error {
	return nil
}
func (nopClient) SetTyping(ctx context.Context, chatID string, typing bool) error { return nil }
func (nopClient) MarkRead(ctx context.Context, chatID string) error               { return nil }

func nopFactory(h wa.Handlers) (wa.Client, error) { return nopClient{}, nil }

func newTestMachine(t *testing.T, factory wa.Factory) (*Machine, *recordSink, *stats.Collector) {
	t.Helper()
	sink := &recordSink{}
	collector := stats.New()
	m := New(factory, sink, collector, 10*time.Millisecond, nil)
	t.Cleanup(m.Close)
	return m, sink, collector
}

func TestMachine_StartsUninitialized(t *testing.T) {
	m, _, _ := newTestMachine(t, nopFactory)

	st := m.CurrentStatus()
	assert.Equal(t, PhaseUninitialized, st.Phase)
	assert.False(t, st.HasQR())
	assert.Nil(t, st.Identity)
}

func TestMachine_ConcurrentStartLaunchesOneClient(t *testing.T) {
	var launches atomic.Int32
	factory := func(h wa.Handlers) (wa.Client, error) {
		launches.Add(1)
		return nopClient{}, nil
	}
	m, _, _ := newTestMachine(t, factory)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestStart()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return launches.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), launches.Load(), "duplicate start must not launch a second client")
	assert.Equal(t, PhaseInitializing, m.CurrentStatus().Phase)
}

func TestMachine_FullAuthenticationSequence(t *testing.T) {
	m, sink, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	m.RequestStart()
	require.Equal(t, PhaseInitializing, m.CurrentStatus().Phase)

	h.OnQR("ABC")
	st := m.CurrentStatus()
	assert.Equal(t, PhaseQRPending, st.Phase)
	assert.Equal(t, "ABC", st.QR)
	assert.Equal(t, []string{hub.EventQR}, sink.types())

	h.OnAuthenticated()
	st = m.CurrentStatus()
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	assert.False(t, st.HasQR(), "qr must be cleared on authentication")

	h.OnReady(wa.Identity{DisplayName: "X", AccountID: "1", Platform: "test"})
	st = m.CurrentStatus()
	assert.Equal(t, PhaseReady, st.Phase)
	require.NotNil(t, st.Identity)
	assert.Equal(t, "X", st.Identity.DisplayName)

	assert.Equal(t, []string{hub.EventQR, hub.EventReady}, sink.types(),
		"exactly two events since start")
}

func TestMachine_QRRescanReplacesPayload(t *testing.T) {
	m, sink, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	m.RequestStart()
	h.OnQR("first")
	h.OnQR("second")

	st := m.CurrentStatus()
	assert.Equal(t, PhaseQRPending, st.Phase)
	assert.Equal(t, "second", st.QR)
	assert.Equal(t, []string{hub.EventQR, hub.EventQR}, sink.types())
}

func TestMachine_DisconnectFromReady(t *testing.T) {
	m, sink, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	m.RequestStart()
	h.OnQR("q")
	h.OnAuthenticated()
	h.OnReady(wa.Identity{DisplayName: "X"})

	h.OnDisconnected("LOGOUT")
	st := m.CurrentStatus()
	assert.Equal(t, PhaseDisconnected, st.Phase)
	assert.Nil(t, st.Identity)
	assert.False(t, st.HasQR())

	events := sink.types()
	require.Len(t, events, 3)
	assert.Equal(t, hub.EventDisconnected, events[2])
}

func TestMachine_RepeatedDisconnectIsNoOp(t *testing.T) {
	m, sink, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	m.RequestStart()
	h.OnDisconnected("NAVIGATION")
	before := m.CurrentStatus()
	count := len(sink.types())

	h.OnDisconnected("NAVIGATION")
	h.OnDisconnected("other")

	after := m.CurrentStatus()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.QR, after.QR)
	assert.Nil(t, after.Identity)
	assert.Len(t, sink.types(), count, "repeated disconnects must not emit")
}

func TestMachine_UnlistedTriggersIgnored(t *testing.T) {
	m, sink, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	// ready before authenticated, qr before start: all absorbed.
	h.OnReady(wa.Identity{DisplayName: "X"})
	h.OnQR("early")
	assert.Equal(t, PhaseUninitialized, m.CurrentStatus().Phase)
	assert.Empty(t, sink.types())
}

func TestMachine_LaunchFailureBecomesAuthFailure(t *testing.T) {
	factory := func(h wa.Handlers) (wa.Client, error) {
		return nil, errors.New("browser exploded")
	}
	m, sink, collector := newTestMachine(t, factory)

	m.RequestStart()
	require.Eventually(t, func() bool {
		return m.CurrentStatus().Phase == PhaseAuthFailed
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), collector.Snapshot().Errors)
	assert.Equal(t, []string{hub.EventAuthFailure}, sink.types())

	// The re-entrancy guard is released: a new start is legal again.
	m.RequestStart()
	assert.Equal(t, PhaseInitializing, m.CurrentStatus().Phase)
}

func TestMachine_StartErrorBecomesAuthFailure(t *testing.T) {
	factory := func(h wa.Handlers) (wa.Client, error) {
		f := wa.NewFake(wa.Handlers{}) // handlers dropped: no qr emission
		f.StartErr = errors.New("no display")
		return f, nil
	}
	m, _, collector := newTestMachine(t, factory)

	m.RequestStart()
	require.Eventually(t, func() bool {
		return m.CurrentStatus().Phase == PhaseAuthFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), collector.Snapshot().Errors)
}

func TestMachine_LogoutOnlyFromReady(t *testing.T) {
	m, _, _ := newTestMachine(t, nopFactory)

	require.ErrorIs(t, m.RequestLogout(), ErrNotReady)

	h := m.Handlers()
	m.RequestStart()
	h.OnQR("q")
	h.OnAuthenticated()
	h.OnReady(wa.Identity{DisplayName: "X"})

	require.NoError(t, m.RequestLogout())
	st := m.CurrentStatus()
	assert.Equal(t, PhaseDisconnected, st.Phase)
	assert.Nil(t, st.Identity)
}

func TestMachine_RestartTearsDownAndRelaunches(t *testing.T) {
	var launches atomic.Int32
	factory := func(h wa.Handlers) (wa.Client, error) {
		launches.Add(1)
		return nopClient{}, nil
	}
	m, sink, _ := newTestMachine(t, factory)
	h := m.Handlers()

	m.RequestStart()
	h.OnQR("q")
	h.OnAuthenticated()
	h.OnReady(wa.Identity{DisplayName: "X"})
	require.Eventually(t, func() bool { return launches.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.RequestRestart()
	assert.Equal(t, PhaseDisconnected, m.CurrentStatus().Phase)

	require.Eventually(t, func() bool { return launches.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseInitializing, m.CurrentStatus().Phase)
	assert.Contains(t, sink.types(), hub.EventDisconnected)
}

// trackClient records lifecycle calls so tests can count live instances.
type trackClient struct {
	nopClient
	started atomic.Bool
	stopped atomic.Bool
}

func (c *trackClient) Start(ctx context.Context) error {
	c.started.Store(true)
	return nil
}

func (c *trackClient) Stop() error {
	c.stopped.Store(true)
	return nil
}

func (c *trackClient) live() bool {
	return c.started.Load() && !c.stopped.Load()
}

func TestMachine_RestartDuringSlowLaunchKeepsOneClient(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var clients []*trackClient
	var launches atomic.Int32

	factory := func(h wa.Handlers) (wa.Client, error) {
		if launches.Add(1) == 1 {
			// The first launch stalls until the test releases it, long after
			// a restart has superseded it.
			<-release
		}
		c := &trackClient{}
		mu.Lock()
		clients = append(clients, c)
		mu.Unlock()
		return c, nil
	}
	m, _, _ := newTestMachine(t, factory)

	m.RequestStart()
	m.RequestRestart()

	// Wait for the restart's replacement client to be installed.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(clients) == 1 && m.Client() == wa.Client(clients[0])
	}, time.Second, 5*time.Millisecond)

	close(release)

	// The stalled first launch must discard its instance instead of
	// replacing the installed one.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(clients) == 2 && clients[1].stopped.Load()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	liveCount := 0
	for _, c := range clients {
		if c.live() {
			liveCount++
		}
	}
	assert.LessOrEqual(t, liveCount, 1, "at most one live external client instance")
	assert.Equal(t, wa.Client(clients[0]), m.Client(), "superseded launch must not displace the installed client")
	assert.False(t, clients[1].started.Load(), "superseded client must never be started")
}

func TestMachine_SupersededClientCallbacksIgnored(t *testing.T) {
	var mu sync.Mutex
	handlersByLaunch := make([]wa.Handlers, 0, 2)

	factory := func(h wa.Handlers) (wa.Client, error) {
		mu.Lock()
		handlersByLaunch = append(handlersByLaunch, h)
		mu.Unlock()
		return &trackClient{}, nil
	}
	m, sink, _ := newTestMachine(t, factory)

	m.RequestStart()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handlersByLaunch) == 1
	}, time.Second, 5*time.Millisecond)

	m.RequestRestart()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handlersByLaunch) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	old, current := handlersByLaunch[0], handlersByLaunch[1]
	mu.Unlock()

	// The first cycle's callbacks are dead; only the relaunch's count.
	old.OnQR("stale-code")
	assert.Equal(t, PhaseInitializing, m.CurrentStatus().Phase)
	assert.False(t, m.CurrentStatus().HasQR())

	old.OnMessage(wa.Message{ID: "m-old", ChatID: "c1", Body: "late"})
	assert.NotContains(t, sink.types(), hub.EventNewMessage)

	current.OnQR("fresh-code")
	st := m.CurrentStatus()
	assert.Equal(t, PhaseQRPending, st.Phase)
	assert.Equal(t, "fresh-code", st.QR)
}

func TestMachine_InboundMessagePublishesAndCounts(t *testing.T) {
	m, sink, collector := newTestMachine(t, nopFactory)
	h := m.Handlers()

	h.OnMessage(wa.Message{ID: "m1", ChatID: "c1", Body: "hi"})
	h.OnAck(wa.Ack{MessageID: "m1", ChatID: "c1", Status: wa.AckDelivered})

	assert.Equal(t, []string{hub.EventNewMessage, hub.EventMessageAck}, sink.types())
	assert.Equal(t, int64(1), collector.Snapshot().Received)
}

func TestMachine_SnapshotEventMirrorsPhase(t *testing.T) {
	m, _, _ := newTestMachine(t, nopFactory)
	h := m.Handlers()

	_, ok := m.SnapshotEvent()
	assert.False(t, ok, "uninitialized has no snapshot event")

	m.RequestStart()
	e, ok := m.SnapshotEvent()
	require.True(t, ok)
	assert.Equal(t, hub.EventInitializing, e.Type)

	h.OnQR("snap-qr")
	e, ok = m.SnapshotEvent()
	require.True(t, ok)
	assert.Equal(t, hub.EventQR, e.Type)
	assert.Equal(t, hub.QRData{QR: "snap-qr"}, e.Data)

	h.OnAuthenticated()
	h.OnReady(wa.Identity{DisplayName: "X"})
	e, ok = m.SnapshotEvent()
	require.True(t, ok)
	assert.Equal(t, hub.EventReady, e.Type)

	h.OnDisconnected("gone")
	_, ok = m.SnapshotEvent()
	assert.False(t, ok, "disconnected has no snapshot event")
}

// TestMachine_TransitionTableDeterminism folds fixed trigger sequences over
// the machine and checks the resulting phase against the transition table.
func TestMachine_TransitionTableDeterminism(t *testing.T) {
	type step struct {
		trigger string
		arg     string
	}
	tests := []struct {
		name  string
		steps []step
		want  Phase
	}{
		{"qr then auth then ready", []step{{"start", ""}, {"qr", "a"}, {"auth", ""}, {"ready", ""}}, PhaseReady},
		{"restored session skips qr", []step{{"start", ""}, {"auth", ""}, {"ready", ""}}, PhaseReady},
		{"disconnect mid-handshake", []step{{"start", ""}, {"qr", "a"}, {"disconnected", "x"}}, PhaseDisconnected},
		{"auth failure wins from anywhere", []step{{"start", ""}, {"qr", "a"}, {"auth", ""}, {"authfail", "bad"}}, PhaseAuthFailed},
		{"restart cycle after failure", []step{{"authfail", "bad"}, {"start", ""}, {"qr", "a"}}, PhaseQRPending},
		{"ready without auth ignored", []step{{"start", ""}, {"qr", "a"}, {"ready", ""}}, PhaseQRPending},
		{"double disconnect stable", []step{{"disconnected", "x"}, {"disconnected", "y"}}, PhaseDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMachine(t, nopFactory)
			h := m.Handlers()
			for _, s := range tt.steps {
				switch s.trigger {
				case "start":
					m.RequestStart()
				case "qr":
					h.OnQR(s.arg)
				case "auth":
					h.OnAuthenticated()
				case "ready":
					h.OnReady(wa.Identity{DisplayName: "D"})
				case "disconnected":
					h.OnDisconnected(s.arg)
				case "authfail":
					h.OnAuthFailure(s.arg)
				}
			}
			assert.Equal(t, tt.want, m.CurrentStatus().Phase)
		})
	}
}
