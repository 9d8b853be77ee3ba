// Package discord connects to Discord via the gateway API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
)

// Adapter implements channels.Adapter for Discord.
type Adapter struct {
	mu      sync.Mutex
	session *discordgo.Session
	status  channels.Status
}

// New creates an unstarted Discord adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the platform identifier.
func (a *Adapter) Name() string { return config.ChannelDiscord }

// Start opens the Discord gateway connection and begins receiving events.
func (a *Adapter) Start(_ context.Context, cfg config.ChannelConfig, onMessage channels.MessageHandler) error {
	if cfg.Token == "" {
		return fmt.Errorf("discord token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		onMessage(convertMessage(m))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	account := ""
	if session.State != nil && session.State.User != nil {
		account = session.State.User.Username
	}

	a.mu.Lock()
	a.session = session
	a.status = channels.Status{
		Connected:   true,
		Account:     account,
		ConnectedAt: time.Now(),
	}
	a.mu.Unlock()

	slog.Info("discord connected", "username", account)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.status.Connected = false
	a.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// Send delivers a text message to a channel or DM.
func (a *Adapter) Send(_ context.Context, to, text string, _ channels.SendOptions) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord not started")
	}

	if _, err := session.ChannelMessageSend(to, text); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// Status returns a snapshot of the connection state.
func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// GetClient exposes the underlying discordgo session (nil before Start).
func (a *Adapter) GetClient() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// ProbeAuth verifies the bot token against the live API.
func (a *Adapter) ProbeAuth(_ context.Context) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord not started")
	}
	if _, err := session.User("@me"); err != nil {
		return fmt.Errorf("fetch self user: %w", err)
	}
	return nil
}

func convertMessage(m *discordgo.MessageCreate) bus.InboundMessage {
	chatType := bus.ChatGroup
	if m.GuildID == "" {
		chatType = bus.ChatDirect
	}

	var mediaURL string
	var mediaSize int64
	if len(m.Attachments) > 0 {
		mediaURL = m.Attachments[0].URL
		mediaSize = int64(m.Attachments[0].Size)
	}

	return bus.InboundMessage{
		ID:         m.ID,
		Channel:    config.ChannelDiscord,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		ChatID:     m.ChannelID,
		Content:    m.Content,
		MediaURL:   mediaURL,
		MediaSize:  mediaSize,
		ChatType:   chatType,
		Timestamp:  time.Now(),
	}
}
