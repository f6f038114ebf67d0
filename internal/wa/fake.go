// ABOUTME: Deterministic in-memory automation client for tests and dev mode.
// ABOUTME: Lifecycle is driven explicitly via Emit helpers or AutoLogin.

package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake errors.
var (
	ErrNotStarted = errors.New("client not started")
	ErrStopped    = errors.New("client stopped")
)

// Fake is an in-memory Client. Tests drive the session by calling the Emit
// methods; `whatsgate serve` in fake client mode uses AutoLogin to walk the
// full QR -> authenticated -> ready sequence on its own.
type Fake struct {
	// AutoLogin, when set before Start, makes the fake authenticate itself
	// shortly after emitting the initial QR code.
	AutoLogin bool

	// StartErr, when set, makes Start fail. Test hook for launch failures.
	StartErr error

	mu       sync.Mutex
	handlers Handlers
	started  bool
	stopped  bool
	identity Identity
	chats    map[string]*Chat
	messages map[string][]Message
}

// NewFake creates a fake client wired to the given handlers, seeded with a
// couple of chats so list endpoints have something to return.
func NewFake(h Handlers) *Fake {
	f := &Fake{
		handlers: h,
		identity: Identity{
			DisplayName: "Fake Account",
			AccountID:   "10000000001",
			Platform:    "fake",
		},
		chats:    make(map[string]*Chat),
		messages: make(map[string][]Message),
	}
	f.seedChat("10000000002@c.us", "Ada", false)
	f.seedChat("20000000001@g.us", "Team", true)
	return f
}

// FakeFactory returns a Factory producing fresh fakes with AutoLogin set.
func FakeFactory(autoLogin bool) Factory {
	return func(h Handlers) (Client, error) {
		f := NewFake(h)
		f.AutoLogin = autoLogin
		return f, nil
	}
}

func (f *Fake) seedChat(id, name string, group bool) {
	f.chats[id] = &Chat{ID: id, Name: name, IsGroup: group, Timestamp: time.Now()}
}

// Start begins the fake session by emitting a QR code. With AutoLogin the
// fake then authenticates and reports ready on its own.
func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.StartErr != nil {
		err := f.StartErr
		f.mu.Unlock()
		return err
	}
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	f.started = true
	auto := f.AutoLogin
	f.mu.Unlock()

	f.EmitQR("fake-qr-" + uuid.New().String())

	if auto {
		go func() {
			time.Sleep(50 * time.Millisecond)
			f.EmitAuthenticated()
			time.Sleep(50 * time.Millisecond)
			f.EmitReady(f.identity)
		}()
	}
	return nil
}

// Stop tears the fake down. Further commands fail, emits become no-ops.
func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.started = false
	return nil
}

// Logout invalidates the fake session and reports the disconnect.
func (f *Fake) Logout() error {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return ErrNotStarted
	}
	f.started = false
	f.mu.Unlock()

	f.EmitDisconnected("LOGOUT")
	return nil
}

// EmitQR fires the OnQR handler. No-op once stopped.
func (f *Fake) EmitQR(code string) {
	if h := f.handler(); h.OnQR != nil {
		h.OnQR(code)
	}
}

// EmitAuthenticated fires the OnAuthenticated handler.
func (f *Fake) EmitAuthenticated() {
	if h := f.handler(); h.OnAuthenticated != nil {
		h.OnAuthenticated()
	}
}

// EmitReady fires the OnReady handler.
func (f *Fake) EmitReady(id Identity) {
	if h := f.handler(); h.OnReady != nil {
		h.OnReady(id)
	}
}

// EmitDisconnected fires the OnDisconnected handler.
func (f *Fake) EmitDisconnected(reason string) {
	if h := f.handler(); h.OnDisconnected != nil {
		h.OnDisconnected(reason)
	}
}

// EmitAuthFailure fires the OnAuthFailure handler.
func (f *Fake) EmitAuthFailure(message string) {
	if h := f.handler(); h.OnAuthFailure != nil {
		h.OnAuthFailure(message)
	}
}

// EmitMessage records an inbound message and fires the OnMessage handler.
func (f *Fake) EmitMessage(msg Message) {
	f.mu.Lock()
	if _, ok := f.chats[msg.ChatID]; !ok {
		f.seedChat(msg.ChatID, msg.Sender, false)
	}
	f.messages[msg.ChatID] = append(f.messages[msg.ChatID], msg)
	f.mu.Unlock()

	if h := f.handler(); h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

// EmitAck fires the OnAck handler.
func (f *Fake) EmitAck(ack Ack) {
	if h := f.handler(); h.OnAck != nil {
		h.OnAck(ack)
	}
}

func (f *Fake) handler() Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return Handlers{}
	}
	return f.handlers
}

// SendText records an outbound message and immediately acks it as sent.
func (f *Fake) SendText(ctx context.Context, chatID, body string) (*Message, error) {
	msg, err := f.record(chatID, body, false)
	if err != nil {
		return nil, err
	}
	f.EmitAck(Ack{MessageID: msg.ID, ChatID: chatID, Status: AckSent})
	return msg, nil
}

// SendMedia records an outbound media message and immediately acks it.
func (f *Fake) SendMedia(ctx context.Context, chatID string, media Media, caption string) (*Message, error) {
	if media.Filename == "" || len(media.Data) == 0 {
		return nil, fmt.Errorf("media filename and data are required")
	}
	msg, err := f.record(chatID, caption, true)
	if err != nil {
		return nil, err
	}
	f.EmitAck(Ack{MessageID: msg.ID, ChatID: chatID, Status: AckSent})
	return msg, nil
}

func (f *Fake) record(chatID, body string, media bool) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil, ErrNotStarted
	}
	if _, ok := f.chats[chatID]; !ok {
		f.seedChat(chatID, chatID, false)
	}
	msg := Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Sender:    f.identity.AccountID,
		Body:      body,
		FromMe:    true,
		HasMedia:  media,
		Timestamp: time.Now(),
	}
	f.messages[chatID] = append(f.messages[chatID], msg)
	f.chats[chatID].Timestamp = msg.Timestamp
	return &msg, nil
}

// Chats lists the fake's chats.
func (f *Fake) Chats(ctx context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil, ErrNotStarted
	}
	out := make([]Chat, 0, len(f.chats))
	for _, c := range f.chats {
		out = append(out, *c)
	}
	return out, nil
}

// ChatMessages returns up to limit most recent messages for a chat.
func (f *Fake) ChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil, ErrNotStarted
	}
	msgs := f.messages[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Contacts lists one contact per non-group chat.
func (f *Fake) Contacts(ctx context.Context) ([]Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil, ErrNotStarted
	}
	var out []Contact
	for _, c := range f.chats {
		if c.IsGroup {
			continue
		}
		out = append(out, Contact{ID: c.ID, Name: c.Name, Number: c.ID})
	}
	return out, nil
}

// CreateGroup creates a new group chat with the given participants.
func (f *Fake) CreateGroup(ctx context.Context, name string, participants []string) (*Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return nil, ErrNotStarted
	}
	id := uuid.New().String() + "@g.us"
	f.seedChat(id, name, true)
	return &Group{ID: id, Name: name, Participants: participants}, nil
}

// AddParticipants adds members to a group chat.
func (f *Fake) AddParticipants(ctx context.Context, groupID string, participants []string) error {
	return f.requireGroup(groupID)
}

// RemoveParticipants removes members from a group chat.
func (f *Fake) RemoveParticipants(ctx context.Context, groupID string, participants []string) error {
	return f.requireGroup(groupID)
}

func (f *Fake) requireGroup(groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	c, ok := f.chats[groupID]
	if !ok || !c.IsGroup {
		return fmt.Errorf("no group chat %q", groupID)
	}
	return nil
}

// SetTyping is a no-op for the fake.
func (f *Fake) SetTyping(ctx context.Context, chatID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	return nil
}

// MarkRead clears the unread count for a chat.
func (f *Fake) MarkRead(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	if c, ok := f.chats[chatID]; ok {
		c.UnreadCount = 0
	}
	return nil
}
