package delivery

import (
	"context"

	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/service"
)

// Telegram sends deliveries through the chat transport found in the shared
// registry, so jobs can fire while the transport restarts without holding a
// stale client.
type Telegram struct {
	shared        *service.Registry
	defaultChatID string
}

func NewTelegram(shared *service.Registry, defaultChatID string) *Telegram {
	return &Telegram{shared: shared, defaultChatID: defaultChatID}
}

func (t *Telegram) Deliver(ctx context.Context, job cronjob.Job, d cronjob.Delivery) error {
	return t.Notify(ctx, d.ChatID, ReminderText(job))
}

// Notify sends text to chatID, or to the default chat when chatID is empty.
func (t *Telegram) Notify(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		chatID = t.defaultChatID
	}
	if chatID == "" {
		return ErrNoChatID
	}
	sender, ok := service.Lookup(t.shared, ChatKey)
	if !ok {
		return ErrChatUnavailable
	}
	return sender.SendMessage(ctx, chatID, text)
}
