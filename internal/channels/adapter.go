// Package channels composes the admission-control core: the adapter
// contract, the per-channel gate (policy, filters, media ceiling, rate
// limit), the debounced processing path, and channel lifecycle.
package channels

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/config"
)

// MessageHandler receives inbound messages from an adapter. Exactly one
// handler is registered per adapter instance per Start call.
type MessageHandler func(msg bus.InboundMessage)

// SendOptions carries optional outbound delivery parameters.
type SendOptions struct {
	ThreadID string
}

// Status is owned and mutated exclusively by the adapter; read-only to the
// manager.
type Status struct {
	Connected       bool      `json:"connected"`
	Account         string    `json:"account,omitempty"`
	Error           string    `json:"error,omitempty"`
	ConnectedAt     time.Time `json:"connected_at,omitempty"`
	LastReconnectAt time.Time `json:"last_reconnect_at,omitempty"`
}

// Adapter is implemented by each platform integration. The adapter owns the
// wire connection and its reconnect/backoff; the manager owns admission.
type Adapter interface {
	// Name returns the platform identifier (e.g. "telegram").
	Name() string

	// Start opens the connection and registers onMessage as the sole
	// inbound subscriber. Non-blocking after setup.
	Start(ctx context.Context, cfg config.ChannelConfig, onMessage MessageHandler) error

	// Stop shuts the connection down. Does not cancel in-flight processing
	// of messages already dequeued.
	Stop(ctx context.Context) error

	// Send delivers an outbound message.
	Send(ctx context.Context, to, text string, opts SendOptions) error

	// Status returns a snapshot of the connection state.
	Status() Status

	// GetClient exposes the underlying platform SDK client for live probe
	// and target resolution. May return nil before Start.
	GetClient() any
}

// LiveProber is optionally implemented by adapters that support a live
// platform-auth check.
type LiveProber interface {
	ProbeAuth(ctx context.Context) error
}

// TargetResolver is optionally implemented by adapters that can resolve
// human-entered identifiers to platform-native IDs.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, entry, kind string) (ResolvedTarget, error)
}

// Ready reports whether a channel's platform-specific readiness predicate
// holds, i.e. whether startAll should attempt it. Telegram and Discord need
// a primary token, Slack needs two distinct secrets, WhatsApp connects to a
// local bridge and has no token precondition.
func Ready(cfg config.ChannelConfig) bool {
	switch cfg.Channel {
	case config.ChannelTelegram, config.ChannelDiscord:
		return cfg.Token != ""
	case config.ChannelSlack:
		return cfg.Token != "" && cfg.Extra["app_token"] != ""
	case config.ChannelWhatsApp:
		return true
	default:
		return false
	}
}
