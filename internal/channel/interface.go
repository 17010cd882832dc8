package channel

import (
	"context"
)

// Sender delivers text to a chat. chatID is provider-specific and passed as
// a string for portability.
type Sender interface {
	SendMessage(ctx context.Context, chatID string, content string) error
}

// MessageHandler answers an inbound message. An empty reply sends nothing.
type MessageHandler func(ctx context.Context, msg *Message) (string, error)
