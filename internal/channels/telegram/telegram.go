// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
)

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	mu         sync.Mutex
	bot        *telego.Bot
	status     channels.Status
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates an unstarted Telegram adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the platform identifier.
func (a *Adapter) Name() string { return config.ChannelTelegram }

// Start creates the bot client and begins long polling. onMessage becomes
// the sole inbound subscriber for this adapter instance.
func (a *Adapter) Start(ctx context.Context, cfg config.ChannelConfig, onMessage channels.MessageHandler) error {
	if cfg.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)

	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	me, err := bot.GetMe(pollCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram auth check: %w", err)
	}

	a.mu.Lock()
	a.bot = bot
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})
	a.status = channels.Status{
		Connected:   true,
		Account:     me.Username,
		ConnectedAt: time.Now(),
	}
	done := a.pollDone
	a.mu.Unlock()

	slog.Info("telegram connected", "username", me.Username)

	go func() {
		defer close(done)
		for update := range updates {
			if update.Message == nil {
				continue
			}
			msg, ok := convertMessage(update.Message)
			if !ok {
				continue
			}
			onMessage(msg)
		}
		a.mu.Lock()
		a.status.Connected = false
		a.mu.Unlock()
	}()

	return nil
}

// Stop cancels long polling and waits for the update loop to exit.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	cancel := a.pollCancel
	done := a.pollDone
	a.pollCancel = nil
	a.status.Connected = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			slog.Warn("telegram poll loop did not exit in time")
		}
	}
	return nil
}

// Send delivers a text message to a chat.
func (a *Adapter) Send(ctx context.Context, to, text string, opts channels.SendOptions) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("telegram not started")
	}

	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	}
	if opts.ThreadID != "" {
		if threadID, err := strconv.Atoi(opts.ThreadID); err == nil {
			params.MessageThreadID = threadID
		}
	}

	if _, err := bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Status returns a snapshot of the connection state.
func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// GetClient exposes the underlying telego bot (nil before Start).
func (a *Adapter) GetClient() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot
}

// ProbeAuth verifies the bot token against the live API.
func (a *Adapter) ProbeAuth(ctx context.Context) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return fmt.Errorf("telegram not started")
	}
	if _, err := bot.GetMe(ctx); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	return nil
}

// convertMessage maps a Telegram message to the internal inbound shape.
// Messages with neither text nor media are skipped.
func convertMessage(msg *telego.Message) (bus.InboundMessage, bool) {
	if msg.From == nil {
		return bus.InboundMessage{}, false
	}

	chatType := bus.ChatGroup
	if msg.Chat.Type == "private" {
		chatType = bus.ChatDirect
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var mediaURL string
	var mediaSize int64
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		mediaURL = largest.FileID
		mediaSize = int64(largest.FileSize)
	} else if msg.Document != nil {
		mediaURL = msg.Document.FileID
		mediaSize = int64(msg.Document.FileSize)
	}

	if text == "" && mediaURL == "" {
		return bus.InboundMessage{}, false
	}

	threadID := ""
	if msg.MessageThreadID != 0 {
		threadID = strconv.Itoa(msg.MessageThreadID)
	}

	senderName := msg.From.FirstName
	if msg.From.Username != "" {
		senderName = msg.From.Username
	}

	return bus.InboundMessage{
		ID:         strconv.Itoa(msg.MessageID),
		Channel:    config.ChannelTelegram,
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		SenderName: senderName,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		Content:    text,
		MediaURL:   mediaURL,
		MediaSize:  mediaSize,
		ThreadID:   threadID,
		ChatType:   chatType,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	}, true
}
