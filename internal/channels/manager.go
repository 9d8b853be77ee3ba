package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/config"
	"github.com/nextlevelbuilder/chatgate/internal/pairing"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

const (
	// DefaultDebounceWindow is the quiet period before a buffered burst is
	// processed.
	DefaultDebounceWindow = 1 * time.Second

	dedupeTTL     = 20 * time.Minute
	dedupeMaxSize = 5000

	// limiterSweepInterval bounds how often stale per-sender rate-limit
	// entries are pruned across all channels.
	limiterSweepInterval = 10 * time.Minute
)

var (
	// ErrUnknownChannel means no adapter is registered for the identifier.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoConfig means the channel was never configured.
	ErrNoConfig = errors.New("channel not configured")
	// ErrDuplicateAdapter means two adapters share an identifier.
	ErrDuplicateAdapter = errors.New("adapter already registered")
)

// Deps wires the manager to its stores and external collaborators.
// Sessions and Model are required for message processing; Media, Directives
// and Events are optional.
type Deps struct {
	Config     *config.Store
	Pairing    *pairing.Service
	Sessions   SessionService
	Model      ModelInvoker
	Media      MediaPipeline
	Directives DirectiveParser
	Events     EventEmitter

	// DebounceWindow overrides DefaultDebounceWindow (0 = default,
	// negative = debouncing disabled).
	DebounceWindow time.Duration
}

// Manager composes adapters, config, pairing, rate limiting and the
// debounce queue, and runs the inbound gate pipeline.
type Manager struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	limiters  map[string]*RateLimiter
	lastSweep time.Time

	deps   Deps
	queue  *bus.InboundDebouncer
	dedupe *bus.DedupeCache
	logs   *LogBuffer
}

// NewManager creates a manager. Adapters are registered separately.
func NewManager(deps Deps) *Manager {
	window := deps.DebounceWindow
	if window == 0 {
		window = DefaultDebounceWindow
	}

	m := &Manager{
		adapters: make(map[string]Adapter),
		limiters: make(map[string]*RateLimiter),
		deps:     deps,
		dedupe:   bus.NewDedupeCache(dedupeTTL, dedupeMaxSize),
		logs:     NewLogBuffer(DefaultLogCap),
	}
	m.queue = bus.NewInboundDebouncer(window, m.processInbound)
	return m
}

// Register stores one adapter per platform identifier.
func (m *Manager) Register(adapter Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := adapter.Name()
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAdapter, name)
	}
	m.adapters[name] = adapter
	return nil
}

// Adapter returns the registered adapter for a channel.
func (m *Manager) Adapter(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Logs returns recent channel log entries.
func (m *Manager) Logs(channel string, limit int) []LogEntry {
	return m.logs.List(channel, limit)
}

// LoadConfigs re-reads the persisted channel configuration.
func (m *Manager) LoadConfigs() []config.ChannelConfig {
	return m.deps.Config.Load()
}

// UpdateConfig merges a patch into a channel's config, re-normalizes and
// persists before returning.
func (m *Manager) UpdateConfig(channel string, patch config.Patch) (config.ChannelConfig, error) {
	cfg, err := m.deps.Config.Update(channel, patch)
	if err != nil {
		return config.ChannelConfig{}, err
	}

	// The rate limit may have changed; drop the limiter so the next message
	// rebuilds it. Sender history goes with it, so the first window after an
	// update starts fresh.
	m.mu.Lock()
	delete(m.limiters, channel)
	m.mu.Unlock()

	m.logs.Append(channel, LogInfo, "config.updated", "channel configuration updated", nil)
	return cfg, nil
}

// StartChannel starts one channel. Fails with ErrUnknownChannel if no
// adapter is registered and ErrNoConfig if the channel was never
// configured; adapter failures propagate to the caller.
func (m *Manager) StartChannel(ctx context.Context, channel string) error {
	adapter, ok := m.Adapter(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	cfg, ok := m.deps.Config.Get(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConfig, channel)
	}

	m.logs.Append(channel, LogInfo, "channel.starting", "starting channel", nil)
	slog.Info("starting channel", "channel", channel)

	if err := adapter.Start(ctx, cfg, m.HandleInbound); err != nil {
		m.logs.Append(channel, LogError, "channel.start_failed", err.Error(), nil)
		m.emit(protocol.EventChannel, protocol.ChannelEventError,
			map[string]any{"channel": channel, "error": err.Error()})
		return fmt.Errorf("start %s: %w", channel, err)
	}

	m.deps.Config.SetEnabled(channel, true)
	m.logs.Append(channel, LogInfo, "channel.started", "channel started", nil)
	m.emit(protocol.EventChannel, protocol.ChannelEventStarted, map[string]any{"channel": channel})
	return nil
}

// StopChannel stops one channel.
func (m *Manager) StopChannel(ctx context.Context, channel string) error {
	adapter, ok := m.Adapter(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if err := adapter.Stop(ctx); err != nil {
		m.logs.Append(channel, LogError, "channel.stop_failed", err.Error(), nil)
		return fmt.Errorf("stop %s: %w", channel, err)
	}

	m.logs.Append(channel, LogInfo, "channel.stopped", "channel stopped", nil)
	m.emit(protocol.EventChannel, protocol.ChannelEventStopped, map[string]any{"channel": channel})
	return nil
}

// StartAll loads configuration and starts every registered channel whose
// readiness predicate holds. Individual failures are logged and skipped.
func (m *Manager) StartAll(ctx context.Context) {
	configs := m.deps.Config.Load()
	byChannel := make(map[string]config.ChannelConfig, len(configs))
	for _, cfg := range configs {
		byChannel[cfg.Channel] = cfg
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		cfg, ok := byChannel[name]
		if !ok || !Ready(cfg) {
			slog.Debug("skipping channel, not ready", "channel", name)
			continue
		}
		if err := m.StartChannel(ctx, name); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
}

// StopAll flushes the debounce queue and stops every registered adapter.
// Individual failures are swallowed.
func (m *Manager) StopAll(ctx context.Context) {
	m.queue.Stop()

	m.mu.RLock()
	adapters := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	for _, adapter := range adapters {
		if err := adapter.Stop(ctx); err != nil {
			slog.Warn("error stopping channel", "channel", adapter.Name(), "error", err)
		}
	}
}

// Status returns the adapter-owned connection status for a channel.
func (m *Manager) Status(channel string) (Status, error) {
	adapter, ok := m.Adapter(channel)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return adapter.Status(), nil
}

// StatusAll returns the status of every registered channel.
func (m *Manager) StatusAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.adapters))
	for name, adapter := range m.adapters {
		out[name] = adapter.Status()
	}
	return out
}

// Capability describes what a registered adapter supports.
type Capability struct {
	Channel        string `json:"channel"`
	Configured     bool   `json:"configured"`
	LiveProbe      bool   `json:"live_probe"`
	ResolveTargets bool   `json:"resolve_targets"`
}

// Capabilities lists every registered channel and its optional features.
func (m *Manager) Capabilities() []Capability {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Capability, 0, len(m.adapters))
	for name, adapter := range m.adapters {
		_, configured := m.deps.Config.Get(name)
		_, prober := adapter.(LiveProber)
		_, resolver := adapter.(TargetResolver)
		out = append(out, Capability{
			Channel:        name,
			Configured:     configured,
			LiveProbe:      prober,
			ResolveTargets: resolver,
		})
	}
	return out
}

// HandleInbound runs the synchronous gate pipeline for one inbound message:
// DM policy, generic filters, media ceiling, rate limit, then enqueue. Every
// drop reason is recorded as a log entry; no further steps run after a drop.
func (m *Manager) HandleInbound(msg bus.InboundMessage) {
	cfg, ok := m.deps.Config.Get(msg.Channel)
	if !ok {
		m.drop(msg, "not_configured")
		return
	}

	if m.dedupe.IsDuplicate(msg.Channel + ":" + msg.ID) {
		m.drop(msg, "duplicate")
		return
	}

	if msg.ChatType == bus.ChatDirect {
		if !m.passDMPolicy(cfg, msg) {
			return // drop already recorded with the policy-specific reason
		}
	}

	if reason := filterReason(cfg, msg); reason != "" {
		m.drop(msg, reason)
		return
	}

	if msg.MediaSize > 0 && msg.MediaSize > cfg.MediaMaxBytes {
		m.drop(msg, "media_too_large")
		return
	}

	if !m.limiterFor(cfg).Allow(msg.SenderID) {
		m.drop(msg, "rate_limited")
		return
	}

	m.queue.Enqueue(msg)
}

// passDMPolicy applies the resolved DM policy to a direct message.
// Returns false after recording the drop.
func (m *Manager) passDMPolicy(cfg config.ChannelConfig, msg bus.InboundMessage) bool {
	switch ResolveDMPolicy(cfg) {
	case DMPolicyDisabled:
		m.drop(msg, "dms_disabled")
		return false

	case DMPolicyOpen:
		return true

	case DMPolicyAllowlist:
		if inList(cfg.AllowFrom, msg.SenderID) {
			return true
		}
		m.drop(msg, "sender_not_allowed")
		return false

	default: // pairing
		if inList(cfg.AllowFrom, msg.SenderID) || m.deps.Pairing.IsApproved(msg.Channel, msg.SenderID) {
			return true
		}
		m.requestPairing(msg)
		m.drop(msg, "pairing_required")
		return false
	}
}

// filterReason applies the generic allow/deny filter shared by DMs and
// groups. Empty reason means the message passes.
func filterReason(cfg config.ChannelConfig, msg bus.InboundMessage) string {
	if inList(cfg.BlockFrom, msg.SenderID) {
		return "sender_blocked"
	}
	if msg.ChatType == bus.ChatGroup {
		if cfg.AllowGroups != nil && !*cfg.AllowGroups {
			return "groups_disabled"
		}
		if len(cfg.AllowFrom) > 0 && !inList(cfg.AllowFrom, msg.SenderID) {
			return "sender_not_allowed"
		}
	}
	if msg.ChatType == bus.ChatDirect && cfg.AllowDMs != nil && !*cfg.AllowDMs {
		return "dms_disabled"
	}
	return ""
}

// requestPairing ensures a pending request exists for the sender and sends
// a cooldown-gated prompt asynchronously. The triggering message is dropped
// by the caller.
func (m *Manager) requestPairing(msg bus.InboundMessage) {
	req, created := m.deps.Pairing.EnsureRequest(msg.Channel, msg.SenderID, msg.ChatID)
	if created {
		m.logs.Append(msg.Channel, LogInfo, "pairing.requested",
			fmt.Sprintf("pairing request created for %s", msg.SenderID),
			map[string]any{"request_id": req.ID, "user": msg.SenderID})
		m.emit(protocol.EventPairing, protocol.PairingEventRequested,
			map[string]any{"channel": msg.Channel, "user": msg.SenderID, "request_id": req.ID})
	}

	if !m.deps.Pairing.AllowPrompt(req.ID) {
		return
	}

	adapter, ok := m.Adapter(msg.Channel)
	if !ok {
		return
	}
	go func() {
		text := fmt.Sprintf(
			"Hi! Before I can chat with you, an operator has to approve this conversation.\n"+
				"Your pairing code is: %s\n"+
				"Ask the operator to run: chatgate pairing approve %s",
			req.Code, req.Code)
		if err := adapter.Send(context.Background(), msg.ChatID, text, SendOptions{}); err != nil {
			slog.Warn("failed to send pairing prompt",
				"channel", msg.Channel, "user", msg.SenderID, "error", err)
		}
	}()
}

// drop records a gate rejection. Rejections are silent to the sender except
// for the pairing flow, which prompts separately.
func (m *Manager) drop(msg bus.InboundMessage, reason string) {
	m.logs.Append(msg.Channel, LogInfo, "gate.drop", "message dropped: "+reason,
		map[string]any{"reason": reason, "sender": msg.SenderID, "chat": msg.ChatID})
	slog.Debug("inbound message dropped",
		"channel", msg.Channel, "sender", msg.SenderID, "reason", reason)
}

// limiterFor returns the channel's rate limiter, creating it lazily from
// the configured limit. Also sweeps stale sender entries out of every
// limiter at most once per limiterSweepInterval, so one-off senders don't
// accumulate forever.
func (m *Manager) limiterFor(cfg config.ChannelConfig) *RateLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now := time.Now(); now.Sub(m.lastSweep) >= limiterSweepInterval {
		m.lastSweep = now
		for _, rl := range m.limiters {
			rl.Cleanup()
		}
	}

	if rl, ok := m.limiters[cfg.Channel]; ok {
		return rl
	}
	max := cfg.RateLimitPerMin
	if max <= 0 {
		max = config.DefaultRateLimitPerMin
	}
	rl := NewRateLimiter(max)
	m.limiters[cfg.Channel] = rl
	return rl
}

// processInbound handles a message the debounce queue released: session
// ensure, directives, media enrichment, model call, reply. Failures are
// converted into a best-effort apologetic reply and never propagate.
func (m *Manager) processInbound(msg bus.InboundMessage) {
	ctx := context.Background()

	if err := m.process(ctx, msg); err != nil {
		m.logs.Append(msg.Channel, LogError, "process.failed", err.Error(),
			map[string]any{"sender": msg.SenderID, "chat": msg.ChatID})
		slog.Error("inbound processing failed",
			"channel", msg.Channel, "chat", msg.ChatID, "error", err)
		m.replyBestEffort(ctx, msg,
			"Sorry, something went wrong while handling your message. Please try again.")
	}
}

func (m *Manager) process(ctx context.Context, msg bus.InboundMessage) error {
	adapter, ok := m.Adapter(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, msg.Channel)
	}

	session, err := m.deps.Sessions.EnsureSession(ctx, msg.Channel, msg.ChatID)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	text := msg.Content
	if m.deps.Directives != nil {
		directives, cleaned := m.deps.Directives(text)
		text = cleaned
		if directives.Reset {
			if err := m.deps.Sessions.Reset(ctx, session); err != nil {
				return fmt.Errorf("reset session: %w", err)
			}
			m.logs.Append(msg.Channel, LogInfo, "session.reset", "session reset by directive",
				map[string]any{"chat": msg.ChatID})
			return adapter.Send(ctx, msg.ChatID, "Session reset.", SendOptions{ThreadID: msg.ThreadID})
		}
	}

	if msg.MediaURL != "" && m.deps.Media != nil {
		maxBytes := int64(config.DefaultMediaMaxBytes)
		if cfg, ok := m.deps.Config.Get(msg.Channel); ok {
			maxBytes = cfg.MediaMaxBytes
		}
		desc, err := m.deps.Media.Describe(ctx, msg.MediaURL, maxBytes)
		if err != nil {
			slog.Warn("media enrichment failed",
				"channel", msg.Channel, "url", msg.MediaURL, "error", err)
		} else if desc != "" {
			text += "\n[media] " + desc
		}
	}

	m.emit(protocol.EventChannel, protocol.ChannelEventMessageIn, map[string]any{
		"channel": msg.Channel, "sender": msg.SenderID, "chat": msg.ChatID,
	})
	m.logs.Append(msg.Channel, LogInfo, "message.in", "inbound message accepted",
		map[string]any{"sender": msg.SenderID, "chat": msg.ChatID})

	if err := m.deps.Sessions.AppendUser(ctx, session, text); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	transcript, err := m.deps.Sessions.BuildTranscript(ctx, session)
	if err != nil {
		return fmt.Errorf("build transcript: %w", err)
	}
	reply, err := m.deps.Model(ctx, transcript)
	if err != nil {
		return fmt.Errorf("model invocation: %w", err)
	}
	if err := m.deps.Sessions.AppendAssistant(ctx, session, reply); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	if err := adapter.Send(ctx, msg.ChatID, reply, SendOptions{ThreadID: msg.ThreadID}); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	m.emit(protocol.EventChannel, protocol.ChannelEventMessageOut, map[string]any{
		"channel": msg.Channel, "chat": msg.ChatID,
	})
	m.logs.Append(msg.Channel, LogInfo, "message.out", "reply sent",
		map[string]any{"chat": msg.ChatID})
	return nil
}

// replyBestEffort sends a failure notice to the sender, swallowing errors.
func (m *Manager) replyBestEffort(ctx context.Context, msg bus.InboundMessage, text string) {
	adapter, ok := m.Adapter(msg.Channel)
	if !ok {
		return
	}
	if err := adapter.Send(ctx, msg.ChatID, text, SendOptions{ThreadID: msg.ThreadID}); err != nil {
		slog.Warn("failed to send failure reply",
			"channel", msg.Channel, "chat", msg.ChatID, "error", err)
	}
}

func (m *Manager) emit(topic, eventType string, payload any) {
	if m.deps.Events != nil {
		m.deps.Events.Emit(topic, eventType, payload)
	}
}

// --- Pairing wrappers ---

// ApprovePairing approves a request by ID or (channel, code) and logs it.
func (m *Manager) ApprovePairing(ref pairing.Ref, approvedBy string) (pairing.Request, error) {
	req, err := m.deps.Pairing.Approve(ref, approvedBy)
	if err != nil {
		return pairing.Request{}, err
	}
	m.logs.Append(req.Channel, LogInfo, "pairing.approved",
		fmt.Sprintf("pairing approved for %s", req.UserID),
		map[string]any{"request_id": req.ID, "by": approvedBy})
	m.emit(protocol.EventPairing, protocol.PairingEventResolved,
		map[string]any{"channel": req.Channel, "user": req.UserID, "status": req.Status})
	return req, nil
}

// RejectPairing rejects a request by ID or (channel, code) and logs it.
func (m *Manager) RejectPairing(ref pairing.Ref, rejectedBy string) (pairing.Request, error) {
	req, err := m.deps.Pairing.Reject(ref, rejectedBy)
	if err != nil {
		return pairing.Request{}, err
	}
	m.logs.Append(req.Channel, LogInfo, "pairing.rejected",
		fmt.Sprintf("pairing rejected for %s", req.UserID),
		map[string]any{"request_id": req.ID, "by": rejectedBy})
	m.emit(protocol.EventPairing, protocol.PairingEventResolved,
		map[string]any{"channel": req.Channel, "user": req.UserID, "status": req.Status})
	return req, nil
}

// RevokePairing removes an approval; the user's next DM re-enters the
// pairing flow.
func (m *Manager) RevokePairing(channel, userID string) error {
	if err := m.deps.Pairing.Revoke(channel, userID); err != nil {
		return err
	}
	m.logs.Append(channel, LogInfo, "pairing.revoked",
		fmt.Sprintf("pairing revoked for %s", userID), nil)
	m.emit(protocol.EventPairing, protocol.PairingEventRevoked,
		map[string]any{"channel": channel, "user": userID})
	return nil
}

// ListPairing returns all requests and approvals after lazy expiry.
func (m *Manager) ListPairing() ([]pairing.Request, []pairing.Approval) {
	return m.deps.Pairing.List()
}
