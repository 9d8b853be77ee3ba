// Package whatsapp connects to a local WhatsApp bridge over WebSocket.
// The bridge owns the WhatsApp protocol and QR login; this adapter just
// exchanges JSON envelopes, so it has no token precondition.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
)

// DefaultBridgeURL is used when the config carries no extra.bridge_url.
const DefaultBridgeURL = "ws://127.0.0.1:3001/ws"

// envelope is the JSON frame exchanged with the bridge.
type envelope struct {
	Type       string `json:"type"` // "message" | "send" | "status"
	ID         string `json:"id,omitempty"`
	From       string `json:"from,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Chat       string `json:"chat,omitempty"`
	ChatType   string `json:"chat_type,omitempty"`
	To         string `json:"to,omitempty"`
	Content    string `json:"content,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	MediaSize  int64  `json:"media_size,omitempty"`
	Account    string `json:"account,omitempty"`
	Connected  *bool  `json:"connected,omitempty"`
	TimestampS int64  `json:"timestamp,omitempty"`
}

// Adapter implements channels.Adapter for the WhatsApp bridge.
type Adapter struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	status    channels.Status
	cancel    context.CancelFunc
	bridgeURL string
	onMessage channels.MessageHandler
	backoff   channels.Backoff
}

// New creates an unstarted WhatsApp adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name returns the platform identifier.
func (a *Adapter) Name() string { return config.ChannelWhatsApp }

// Start connects to the bridge and begins listening. The initial connect
// may fail; the reconnect loop keeps trying with exponential backoff.
func (a *Adapter) Start(ctx context.Context, cfg config.ChannelConfig, onMessage channels.MessageHandler) error {
	bridgeURL := cfg.Extra["bridge_url"]
	if bridgeURL == "" {
		bridgeURL = DefaultBridgeURL
	}

	runCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.bridgeURL = bridgeURL
	a.onMessage = onMessage
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.connect(runCtx); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry",
			"url", bridgeURL, "error", err)
	}

	go a.listenLoop(runCtx)
	return nil
}

// Stop closes the bridge connection.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	conn := a.conn
	a.cancel = nil
	a.conn = nil
	a.status.Connected = false
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// Send delivers a text message through the bridge.
func (a *Adapter) Send(_ context.Context, to, text string, _ channels.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	data, err := json.Marshal(envelope{Type: "send", To: to, Content: text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

// Status returns a snapshot of the connection state.
func (a *Adapter) Status() channels.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// GetClient exposes the bridge WebSocket connection (nil while disconnected).
func (a *Adapter) GetClient() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Adapter) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	a.mu.Lock()
	url := a.bridgeURL
	a.mu.Unlock()

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		a.mu.Lock()
		a.status.Connected = false
		a.status.Error = err.Error()
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.status = channels.Status{
		Connected:   true,
		ConnectedAt: time.Now(),
	}
	a.backoff.Reset()
	a.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", url)
	return nil
}

// listenLoop reads bridge frames and reconnects with backoff on failure.
func (a *Adapter) listenLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		if conn == nil {
			if !a.waitReconnect(ctx) {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp bridge read failed", "error", err)
			a.mu.Lock()
			a.conn = nil
			a.status.Connected = false
			a.status.Error = err.Error()
			a.mu.Unlock()
			continue
		}

		a.handleFrame(data)
	}
}

// waitReconnect sleeps for the backoff delay then attempts one reconnect.
// Returns false when the context is done.
func (a *Adapter) waitReconnect(ctx context.Context) bool {
	a.mu.Lock()
	delay := a.backoff.Next()
	attempt := a.backoff.Attempt()
	a.status.LastReconnectAt = time.Now()
	a.mu.Unlock()

	slog.Info("whatsapp bridge reconnecting", "attempt", attempt, "delay", delay)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
	}

	if err := a.connect(ctx); err != nil {
		slog.Warn("whatsapp bridge reconnect failed", "error", err)
	}
	return true
}

func (a *Adapter) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("whatsapp bridge sent invalid frame", "error", err)
		return
	}

	switch env.Type {
	case "status":
		a.mu.Lock()
		if env.Connected != nil {
			a.status.Connected = *env.Connected
		}
		if env.Account != "" {
			a.status.Account = env.Account
		}
		a.mu.Unlock()

	case "message":
		a.mu.Lock()
		onMessage := a.onMessage
		a.mu.Unlock()
		if onMessage == nil || env.From == "" {
			return
		}

		id := env.ID
		if id == "" {
			id = uuid.NewString()
		}
		chatType := bus.ChatDirect
		if env.ChatType == "group" {
			chatType = bus.ChatGroup
		}
		ts := time.Now()
		if env.TimestampS > 0 {
			ts = time.Unix(env.TimestampS, 0)
		}

		onMessage(bus.InboundMessage{
			ID:         id,
			Channel:    config.ChannelWhatsApp,
			SenderID:   env.From,
			SenderName: env.FromName,
			ChatID:     env.Chat,
			Content:    env.Content,
			MediaURL:   env.MediaURL,
			MediaSize:  env.MediaSize,
			ChatType:   chatType,
			Timestamp:  ts,
		})
	}
}
