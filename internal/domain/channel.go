package domain

import "context"

// InboundMessage is a message received from a channel (user input).
// ConversationID is the opaque key that groups turns into one chat;
// for WhatsApp it is the sender's phone number.
type InboundMessage struct {
	ConversationID string
	Content        string
	ChannelName    string
	SenderName     string `json:"sender_name,omitempty"`
}

// OutboundMessage is a message sent to a channel (agent response).
type OutboundMessage struct {
	ConversationID string
	Content        string
	IsError        bool
}

// MessageHandler is a callback the channel invokes when it receives input.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// Channel is the interface for user-facing I/O adapters.
type Channel interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	Name() string
}
