// Package slack connects to Slack via Socket Mode. It needs two distinct
// secrets: a bot token (xoxb-) and an app-level token (xapp-).
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
)

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	mu     sync.Mutex
	api    *slack.Client
	socket *socketmode.Client
	cancel context.CancelFunc
	status channels.Status
	botID  string
}

// New creates an unstarted Slack adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the platform identifier.
func (a *Adapter) Name() string { return config.ChannelSlack }

// Start opens the Socket Mode connection and begins receiving events.
func (a *Adapter) Start(ctx context.Context, cfg config.ChannelConfig, onMessage channels.MessageHandler) error {
	appToken := cfg.Extra["app_token"]
	if cfg.Token == "" || appToken == "" {
		return fmt.Errorf("slack requires both bot token and app token")
	}

	api := slack.New(cfg.Token, slack.OptionAppLevelToken(appToken))

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}

	socket := socketmode.New(api)
	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.api = api
	a.socket = socket
	a.cancel = cancel
	a.botID = auth.UserID
	a.status = channels.Status{
		Connected:   true,
		Account:     auth.User,
		ConnectedAt: time.Now(),
	}
	a.mu.Unlock()

	go a.eventLoop(runCtx, socket, onMessage)
	go func() {
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode stopped", "error", err)
			a.mu.Lock()
			a.status.Connected = false
			a.status.Error = err.Error()
			a.mu.Unlock()
		}
	}()

	slog.Info("slack connected", "user", auth.User)
	return nil
}

func (a *Adapter) eventLoop(ctx context.Context, socket *socketmode.Client, onMessage channels.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				socket.Ack(*evt.Request)
			}
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok {
				continue
			}
			if ev.BotID != "" || ev.SubType != "" || ev.User == a.botID {
				continue
			}
			onMessage(convertMessage(ev))
		}
	}
}

// Stop closes the Socket Mode connection.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.status.Connected = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Send delivers a text message to a channel or DM.
func (a *Adapter) Send(ctx context.Context, to, text string, opts channels.SendOptions) error {
	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return fmt.Errorf("slack not started")
	}

	msgOpts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if opts.ThreadID != "" {
		msgOpts = append(msgOpts, slack.MsgOptionTS(opts.ThreadID))
	}

	if _, _, err := api.PostMessageContext(ctx, to, msgOpts...); err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

// Status returns a snapshot of the connection state.
func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// GetClient exposes the underlying slack API client (nil before Start).
func (a *Adapter) GetClient() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.api
}

// ProbeAuth verifies the bot token against the live API.
func (a *Adapter) ProbeAuth(ctx context.Context) error {
	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return fmt.Errorf("slack not started")
	}
	if _, err := api.AuthTestContext(ctx); err != nil {
		return fmt.Errorf("auth test: %w", err)
	}
	return nil
}

// ResolveTarget resolves email entries through the Slack directory.
// Other kinds fall back to the manager's heuristics.
func (a *Adapter) ResolveTarget(ctx context.Context, entry, kind string) (channels.ResolvedTarget, error) {
	if kind != "email" {
		return channels.ResolvedTarget{}, fmt.Errorf("unsupported kind %q", kind)
	}

	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return channels.ResolvedTarget{}, fmt.Errorf("slack not started")
	}

	user, err := api.GetUserByEmailContext(ctx, entry)
	if err != nil {
		return channels.ResolvedTarget{}, fmt.Errorf("lookup by email: %w", err)
	}
	return channels.ResolvedTarget{
		Input:      entry,
		Resolved:   true,
		ID:         user.ID,
		Confidence: channels.ConfidenceHigh,
	}, nil
}

func convertMessage(ev *slackevents.MessageEvent) bus.InboundMessage {
	chatType := bus.ChatGroup
	if ev.ChannelType == "im" {
		chatType = bus.ChatDirect
	}

	return bus.InboundMessage{
		ID:        ev.TimeStamp,
		Channel:   config.ChannelSlack,
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		Content:   ev.Text,
		ThreadID:  ev.ThreadTimeStamp,
		ChatType:  chatType,
		Timestamp: time.Now(),
	}
}
