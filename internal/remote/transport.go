package remote

import "context"

// Message is an inbound chat message.
type Message struct {
	SenderID int64
	ChatID   int64
	Text     string
}

// Transport carries messages between the bot and a chat service.
type Transport interface {
	// Receive starts delivering inbound messages. The channel is closed
	// when ctx is done or the transport is closed.
	Receive(ctx context.Context) (<-chan Message, error)

	// Send delivers text to chatID.
	Send(ctx context.Context, chatID int64, text string) error

	Close() error
}
