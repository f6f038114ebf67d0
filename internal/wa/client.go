// ABOUTME: Client interface and lifecycle Handlers for the automation client.
// ABOUTME: A Factory creates at most one live Client, owned by the state machine.

package wa

import "context"

// Handlers carries the callbacks the automation client fires as the session
// progresses. Nil handlers are skipped. Callbacks may arrive from arbitrary
// goroutines; receivers are responsible for their own synchronization.
type Handlers struct {
	OnQR            func(code string)
	OnAuthenticated func()
	OnReady         func(identity Identity)
	OnDisconnected  func(reason string)
	OnAuthFailure   func(message string)
	OnMessage       func(msg Message)
	OnAck           func(ack Ack)
}

// Client is the command surface of the external automation client. Lifecycle
// progress is reported exclusively through Handlers, never through return
// values: Start returning nil only means the launch was accepted.
type Client interface {
	// Start begins the session. Authentication progress (QR, authenticated,
	// ready) arrives via Handlers.
	Start(ctx context.Context) error

	// Stop tears the client down without invalidating the stored session.
	Stop() error

	// Logout invalidates the stored session server-side.
	Logout() error

	SendText(ctx context.Context, chatID, body string) (*Message, error)
	SendMedia(ctx context.Context, chatID string, media Media, caption string) (*Message, error)
	Chats(ctx context.Context) ([]Chat, error)
	ChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	Contacts(ctx context.Context) ([]Contact, error)
	CreateGroup(ctx context.Context, name string, participants []string) (*Group, error)
	AddParticipants(ctx context.Context, groupID string, participants []string) error
	RemoveParticipants(ctx context.Context, groupID string, participants []string) error
	SetTyping(ctx context.Context, chatID string, typing bool) error
	MarkRead(ctx context.Context, chatID string) error
}

// Factory creates a new client wired to the given handlers. The session
// state machine is the only caller; it guarantees at most one live instance
// because launching a client is expensive (a real binding spawns a browser
// process).
type Factory func(h Handlers) (Client, error)
