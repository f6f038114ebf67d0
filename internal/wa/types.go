// ABOUTME: Domain types exchanged with the automation client.
// ABOUTME: Identity, chats, messages, acks, media, and groups.

package wa

import "time"

// Identity describes the account a session is authenticated as. It is only
// known from the ready callback onward.
type Identity struct {
	DisplayName string `json:"display_name"`
	AccountID   string `json:"account_id"`
	Platform    string `json:"platform"`
}

// Chat is a conversation visible to the session.
type Chat struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsGroup     bool      `json:"is_group"`
	UnreadCount int       `json:"unread_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// Contact is an address-book entry known to the session.
type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Message is a single chat message, inbound or outbound.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	HasMedia  bool      `json:"has_media,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckStatus is the delivery state reported for an outbound message.
type AckStatus string

// Ack statuses in escalating order.
const (
	AckSent      AckStatus = "sent"
	AckDelivered AckStatus = "delivered"
	AckRead      AckStatus = "read"
)

// Ack reports a delivery-state change for a previously sent message.
type Ack struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Status    AckStatus `json:"status"`
}

// Media is an attachment payload for SendMedia.
type Media struct {
	Filename string
	MimeType string
	Data     []byte
}

// Group is the result of creating a group chat.
type Group struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}
