package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gg/gslice"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tgifai/butler/internal/channel"
	"github.com/tgifai/butler/internal/pkg/logs"
)

var _ channel.Sender = (*Telegram)(nil)

// Telegram is the chat transport: it long-polls the Bot API for commands
// and sends replies and deliveries.
type Telegram struct {
	cfg Config

	mu          sync.RWMutex
	bot         *bot.Bot
	botUsername string
	handler     channel.MessageHandler
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	received atomic.Int64
	sent     atomic.Int64
	failed   atomic.Int64
}

func New(cfg Config) *Telegram {
	return &Telegram{cfg: cfg}
}

// SetHandler registers the callback for inbound messages.
func (c *Telegram) SetHandler(h channel.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start connects to the Bot API and begins polling in the background. The
// poll loop outlives ctx and ends on Stop.
func (c *Telegram) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	b, err := c.connect(bot.WithDefaultHandler(c.handleUpdate))
	if err != nil {
		return err
	}
	c.bot = b

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		b.Start(runCtx)
	}()

	logs.CtxInfo(ctx, "[channel:telegram] polling as @%s", c.botUsername)
	return nil
}

func (c *Telegram) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.bot = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop telegram polling: %w", ctx.Err())
	}
}

// SendMessage sends markdown content to chatID, falling back to plain text
// when Telegram rejects the rendered entities.
func (c *Telegram) SendMessage(ctx context.Context, chatID string, content string) error {
	c.mu.RLock()
	b := c.bot
	c.mu.RUnlock()
	if b == nil {
		return channel.ErrNotConnected
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	if err := send(ctx, b, id, content); err != nil {
		c.failed.Add(1)
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Telegram) Stats() map[string]any {
	c.mu.RLock()
	username := c.botUsername
	c.mu.RUnlock()
	return map[string]any{
		"bot":      username,
		"received": c.received.Load(),
		"sent":     c.sent.Load(),
		"failed":   c.failed.Load(),
	}
}

// Send delivers one message without starting the poll loop.
func Send(ctx context.Context, cfg Config, chatID, content string) error {
	c := New(cfg)
	b, err := c.connect()
	if err != nil {
		return err
	}
	c.bot = b
	return c.SendMessage(ctx, chatID, content)
}

func (c *Telegram) connect(extra ...bot.Option) (*bot.Bot, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []bot.Option{
		bot.WithHTTPClient(c.cfg.PollTimeout, &http.Client{Timeout: c.cfg.PollTimeout + 10*time.Second}),
	}
	if c.cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(c.cfg.ServerURL))
	}
	opts = append(opts, extra...)

	b, err := bot.New(c.cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	// bot.New has already verified the token with getMe.
	if me, err := b.GetMe(context.Background()); err == nil {
		c.botUsername = me.Username
	}
	return b, nil
}

func (c *Telegram) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	c.received.Add(1)

	if len(c.cfg.AllowedUsers) > 0 && !gslice.Contains(c.cfg.AllowedUsers, msg.From.ID) {
		logs.CtxInfo(ctx, "[channel:telegram] ignoring message from user %d", msg.From.ID)
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	reply, err := handler(ctx, &channel.Message{
		ID:          strconv.Itoa(msg.ID),
		ChannelType: channel.Telegram,
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		Username:    msg.From.Username,
		ChatID:      strconv.FormatInt(msg.Chat.ID, 10),
		Content:     content,
	})
	if err != nil {
		logs.CtxError(ctx, "[channel:telegram] error handling message: %v", err)
		reply = "Sorry, that failed: " + err.Error()
	}
	if reply == "" {
		return
	}
	if err := send(ctx, b, msg.Chat.ID, reply); err != nil {
		c.failed.Add(1)
		logs.CtxWarn(ctx, "[channel:telegram] reply to chat %d: %v", msg.Chat.ID, err)
		return
	}
	c.sent.Add(1)
}

func send(ctx context.Context, b *bot.Bot, chatID int64, content string) error {
	text, entities := toEntities(content)
	if text == "" {
		text, entities = content, nil
	}

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:   chatID,
		Text:     text,
		Entities: entities,
	})
	if err == nil {
		return nil
	}

	logs.CtxWarn(ctx, "[channel:telegram] formatted send failed, retrying as plain text: %v", err)
	if _, err = b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: content}); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
