package channels

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/internal/config"
	"github.com/nextlevelbuilder/chatgate/internal/pairing"
)

// --- Fakes ---

type sentMessage struct {
	To   string
	Text string
}

type fakeAdapter struct {
	mu       sync.Mutex
	name     string
	started  bool
	startErr error
	sendErr  error
	sent     []sentMessage
	status   Status
	handler  MessageHandler
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Start(_ context.Context, _ config.ChannelConfig, onMessage MessageHandler) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.handler = onMessage
	f.status = Status{Connected: true, Account: f.name + "-bot"}
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.status.Connected = false
	return nil
}

func (f *fakeAdapter) Send(_ context.Context, to, text string, _ SendOptions) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	return nil
}

func (f *fakeAdapter) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeAdapter) GetClient() any { return nil }

func (f *fakeAdapter) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeAdapter) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

type fakeSessions struct {
	mu     sync.Mutex
	user   []string
	assist []string
	resets int
}

func (s *fakeSessions) EnsureSession(_ context.Context, channel, chatID string) (string, error) {
	return channel + ":" + chatID, nil
}

func (s *fakeSessions) AppendUser(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = append(s.user, text)
	return nil
}

func (s *fakeSessions) AppendAssistant(_ context.Context, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assist = append(s.assist, text)
	return nil
}

func (s *fakeSessions) BuildTranscript(_ context.Context, _ string) ([]ModelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelMessage, 0, len(s.user))
	for _, u := range s.user {
		out = append(out, ModelMessage{Role: "user", Content: u})
	}
	return out, nil
}

func (s *fakeSessions) Reset(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *fakeSessions) userMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.user))
	copy(out, s.user)
	return out
}

func (s *fakeSessions) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// --- Test harness ---

type harness struct {
	manager  *Manager
	adapter  *fakeAdapter
	sessions *fakeSessions
	store    *config.Store
	pairing  *pairing.Service
}

func newHarness(t *testing.T, model ModelInvoker) *harness {
	t.Helper()

	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "channels.json"))
	pairingSvc := pairing.NewService(filepath.Join(dir, "pairing.json"))
	sessions := &fakeSessions{}

	if model == nil {
		model = func(_ context.Context, _ []ModelMessage) (string, error) {
			return "model reply", nil
		}
	}

	m := NewManager(Deps{
		Config:         store,
		Pairing:        pairingSvc,
		Sessions:       sessions,
		Model:          model,
		Directives:     parseResetDirective,
		DebounceWindow: -1, // synchronous processing in tests
	})

	adapter := newFakeAdapter(config.ChannelTelegram)
	if err := m.Register(adapter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return &harness{manager: m, adapter: adapter, sessions: sessions, store: store, pairing: pairingSvc}
}

func parseResetDirective(text string) (Directives, string) {
	if strings.TrimSpace(text) == "/reset" {
		return Directives{Reset: true}, ""
	}
	return Directives{}, text
}

func (h *harness) configure(t *testing.T, patch config.Patch) {
	t.Helper()
	if _, err := h.store.Update(config.ChannelTelegram, patch); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func inboundDM(id, sender, content string) bus.InboundMessage {
	return bus.InboundMessage{
		ID:        id,
		Channel:   config.ChannelTelegram,
		SenderID:  sender,
		ChatID:    "chat-" + sender,
		Content:   content,
		ChatType:  bus.ChatDirect,
		Timestamp: time.Now(),
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// --- Gate pipeline ---

func TestHandleInbound_NotConfiguredDrops(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.HandleInbound(inboundDM("m1", "u1", "hello"))

	if got := h.adapter.sentMessages(); len(got) != 0 {
		t.Errorf("expected no replies, got %v", got)
	}
}

func TestHandleInbound_OpenPolicyProcesses(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy})

	h.manager.HandleInbound(inboundDM("m1", "u1", "hello"))

	sent := h.adapter.sentMessages()
	if len(sent) != 1 || sent[0].Text != "model reply" {
		t.Fatalf("expected model reply, got %v", sent)
	}
	if users := h.sessions.userMessages(); len(users) != 1 || users[0] != "hello" {
		t.Errorf("user transcript = %v, want [hello]", users)
	}
}

func TestHandleInbound_Dedupe(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy})

	msg := inboundDM("same-id", "u1", "hello")
	h.manager.HandleInbound(msg)
	h.manager.HandleInbound(msg)

	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Errorf("duplicate delivery should be dropped, got %d replies", len(sent))
	}
}

func TestHandleInbound_PairingFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{Token: strPtr("tok")}) // default policy = pairing

	h.manager.HandleInbound(inboundDM("m1", "u1", "hello"))

	// The triggering message is dropped and a prompt with the code goes out
	// asynchronously.
	requests, _ := h.pairing.List()
	if len(requests) != 1 || requests[0].Status != pairing.StatusPending {
		t.Fatalf("expected one pending request, got %v", requests)
	}
	code := requests[0].Code

	waitFor(t, func() bool { return len(h.adapter.sentMessages()) == 1 },
		"pairing prompt was never sent")
	prompt := h.adapter.sentMessages()[0]
	if !strings.Contains(prompt.Text, code) {
		t.Errorf("prompt should contain the code %s: %q", code, prompt.Text)
	}

	// A second message within the cooldown re-uses the request and stays
	// silent.
	h.manager.HandleInbound(inboundDM("m2", "u1", "hello again"))
	requests, _ = h.pairing.List()
	if len(requests) != 1 {
		t.Fatalf("expected still one request, got %d", len(requests))
	}
	time.Sleep(50 * time.Millisecond)
	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Errorf("cooldown should suppress a second prompt, got %d sends", len(sent))
	}

	// Approval lets the next message through.
	if _, err := h.manager.ApprovePairing(pairing.Ref{Code: code}, "tester"); err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	h.manager.HandleInbound(inboundDM("m3", "u1", "hello approved"))

	waitFor(t, func() bool {
		for _, s := range h.adapter.sentMessages() {
			if s.Text == "model reply" {
				return true
			}
		}
		return false
	}, "approved sender's message was not processed")
}

func TestHandleInbound_AllowlistPolicy(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{AllowFrom: []string{"friend"}})

	h.manager.HandleInbound(inboundDM("m1", "stranger", "hi"))
	if sent := h.adapter.sentMessages(); len(sent) != 0 {
		t.Fatalf("stranger should be dropped, got %v", sent)
	}

	h.manager.HandleInbound(inboundDM("m2", "friend", "hi"))
	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Errorf("allowlisted sender should be processed, got %d replies", len(sent))
	}
}

func TestHandleInbound_Blocklist(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy, BlockFrom: []string{"spammer"}})

	h.manager.HandleInbound(inboundDM("m1", "spammer", "buy now"))
	if sent := h.adapter.sentMessages(); len(sent) != 0 {
		t.Errorf("blocked sender should be dropped, got %v", sent)
	}
}

func TestHandleInbound_GroupsDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{AllowGroups: boolPtr(false)})

	msg := inboundDM("m1", "u1", "hi group")
	msg.ChatType = bus.ChatGroup
	h.manager.HandleInbound(msg)

	if sent := h.adapter.sentMessages(); len(sent) != 0 {
		t.Errorf("group message should be dropped, got %v", sent)
	}
}

func TestHandleInbound_GroupAllowlist(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{AllowFrom: []string{"friend"}})

	msg := inboundDM("m1", "stranger", "hi")
	msg.ChatType = bus.ChatGroup
	h.manager.HandleInbound(msg)
	if sent := h.adapter.sentMessages(); len(sent) != 0 {
		t.Fatalf("non-allowlisted group sender should be dropped")
	}

	msg2 := inboundDM("m2", "friend", "hi")
	msg2.ChatType = bus.ChatGroup
	h.manager.HandleInbound(msg2)
	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Errorf("allowlisted group sender should be processed, got %d", len(sent))
	}
}

func TestHandleInbound_MediaTooLarge(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	maxBytes := int64(1000)
	h.configure(t, config.Patch{DMPolicy: &policy, MediaMaxBytes: &maxBytes})

	msg := inboundDM("m1", "u1", "look at this")
	msg.MediaURL = "file-id"
	msg.MediaSize = 2000
	h.manager.HandleInbound(msg)

	if sent := h.adapter.sentMessages(); len(sent) != 0 {
		t.Errorf("oversized media should be dropped before the rate limiter, got %v", sent)
	}
}

func TestHandleInbound_RateLimited(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	limit := 2
	h.configure(t, config.Patch{DMPolicy: &policy, RateLimitPerMin: &limit})

	for i := 0; i < 4; i++ {
		h.manager.HandleInbound(inboundDM(fmt.Sprintf("m%d", i), "u1", "spam"))
	}

	if sent := h.adapter.sentMessages(); len(sent) != 2 {
		t.Errorf("expected 2 processed messages, got %d", len(sent))
	}
}

func TestHandleInbound_OpenPolicyIgnoresAllowlist(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy, AllowFrom: []string{"friend"}})

	// An explicit open policy outranks the implied allowlist: DMs from any
	// non-blocked sender are admitted. The allowlist still narrows groups
	// and the allowlist/pairing policies.
	h.manager.HandleInbound(inboundDM("m1", "stranger", "hi"))
	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Errorf("open policy should admit a non-allowlisted DM sender, got %d replies", len(sent))
	}
}

func TestLimiterSweep_DropsIdleSenders(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy})

	h.manager.HandleInbound(inboundDM("m1", "one-off", "hi"))

	cfg, _ := h.store.Get(config.ChannelTelegram)
	rl := h.manager.limiterFor(cfg)
	rl.mu.Lock()
	entries := len(rl.hits)
	rl.mu.Unlock()
	if entries != 1 {
		t.Fatalf("sender entries = %d, want 1", entries)
	}

	// Age the sender's window out and force the next sweep.
	rl.now = func() time.Time { return time.Now().Add(2 * rateWindow) }
	h.manager.mu.Lock()
	h.manager.lastSweep = time.Time{}
	h.manager.mu.Unlock()

	h.manager.limiterFor(cfg)

	rl.mu.Lock()
	entries = len(rl.hits)
	rl.mu.Unlock()
	if entries != 0 {
		t.Errorf("idle sender entries should be swept, got %d", entries)
	}
}

// --- Processing path ---

func TestProcess_ResetDirective(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy})

	h.manager.HandleInbound(inboundDM("m1", "u1", "/reset"))

	if h.sessions.resetCount() != 1 {
		t.Errorf("resets = %d, want 1", h.sessions.resetCount())
	}
	sent := h.adapter.sentMessages()
	if len(sent) != 1 || sent[0].Text != "Session reset." {
		t.Errorf("expected reset confirmation, got %v", sent)
	}
}

func TestProcess_ModelFailureSendsApology(t *testing.T) {
	h := newHarness(t, func(_ context.Context, _ []ModelMessage) (string, error) {
		return "", errors.New("model exploded")
	})
	policy := "open"
	h.configure(t, config.Patch{DMPolicy: &policy})

	h.manager.HandleInbound(inboundDM("m1", "u1", "hello"))

	sent := h.adapter.sentMessages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "something went wrong") {
		t.Errorf("expected apologetic reply, got %v", sent)
	}
}

// --- Lifecycle ---

func TestStartAll_ReadinessGate(t *testing.T) {
	h := newHarness(t, nil)

	discordAdapter := newFakeAdapter(config.ChannelDiscord)
	if err := h.manager.Register(discordAdapter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// telegram has a token, discord does not.
	h.configure(t, config.Patch{Token: strPtr("tok")})
	if _, err := h.store.Update(config.ChannelDiscord, config.Patch{}); err != nil {
		t.Fatalf("Update discord: %v", err)
	}

	h.manager.StartAll(context.Background())

	if !h.adapter.isStarted() {
		t.Error("telegram should have started")
	}
	if discordAdapter.isStarted() {
		t.Error("discord without a token should not start")
	}
}

func TestStartChannel_Errors(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.manager.StartChannel(context.Background(), "nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("unknown channel error = %v, want ErrUnknownChannel", err)
	}
	if err := h.manager.StartChannel(context.Background(), config.ChannelTelegram); !errors.Is(err, ErrNoConfig) {
		t.Errorf("unconfigured channel error = %v, want ErrNoConfig", err)
	}

	h.configure(t, config.Patch{Token: strPtr("tok")})
	h.adapter.startErr = errors.New("boom")
	if err := h.manager.StartChannel(context.Background(), config.ChannelTelegram); err == nil {
		t.Error("adapter failure should propagate")
	}
}

func TestStartChannel_SetsEnabled(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{Token: strPtr("tok")})

	if err := h.manager.StartChannel(context.Background(), config.ChannelTelegram); err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	cfg, _ := h.store.Get(config.ChannelTelegram)
	if !cfg.Enabled {
		t.Error("successful start should persist enabled=true")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.manager.Register(newFakeAdapter(config.ChannelTelegram)); !errors.Is(err, ErrDuplicateAdapter) {
		t.Errorf("err = %v, want ErrDuplicateAdapter", err)
	}
}

func TestUpdateConfig_RebuildsLimiter(t *testing.T) {
	h := newHarness(t, nil)
	policy := "open"
	limit := 1
	h.configure(t, config.Patch{DMPolicy: &policy, RateLimitPerMin: &limit})

	h.manager.HandleInbound(inboundDM("m1", "u1", "one"))
	h.manager.HandleInbound(inboundDM("m2", "u1", "two"))
	if sent := h.adapter.sentMessages(); len(sent) != 1 {
		t.Fatalf("limit=1 should admit one message, got %d", len(sent))
	}

	higher := 10
	if _, err := h.manager.UpdateConfig(config.ChannelTelegram, config.Patch{RateLimitPerMin: &higher}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	h.manager.HandleInbound(inboundDM("m3", "u1", "three"))
	if sent := h.adapter.sentMessages(); len(sent) != 2 {
		t.Errorf("raised limit should admit the next message, got %d", len(sent))
	}
}

// --- Probe ---

func TestProbe_Checks(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{Token: strPtr("tok"), Enabled: boolPtr(true)})

	result, err := h.manager.Probe(context.Background(), config.ChannelTelegram, ProbeOptions{Live: true})
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}

	checks := make(map[string]ProbeCheck)
	for _, c := range result.Checks {
		checks[c.Name] = c
	}

	if !checks["configured"].OK {
		t.Error("configured check should pass")
	}
	if !checks["enabled"].OK {
		t.Error("enabled check should pass")
	}
	if checks["connected"].OK {
		t.Error("connected check should fail before Start")
	}
	// fakeAdapter does not implement LiveProber.
	auth := checks["auth"]
	if auth.OK || auth.Severity != "warn" {
		t.Errorf("auth check = %+v, want unsupported warning", auth)
	}
}

func TestProbe_UnknownChannel(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.manager.Probe(context.Background(), "nope", ProbeOptions{}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("err = %v, want ErrUnknownChannel", err)
	}
}

// --- Pairing admin wrappers ---

func TestRevokePairing_ReEntersFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, config.Patch{Token: strPtr("tok")})

	h.manager.HandleInbound(inboundDM("m1", "u1", "hello"))
	requests, _ := h.pairing.List()
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}

	if _, err := h.manager.ApprovePairing(pairing.Ref{Code: requests[0].Code}, "tester"); err != nil {
		t.Fatalf("ApprovePairing: %v", err)
	}
	if !h.pairing.IsApproved(config.ChannelTelegram, "u1") {
		t.Fatal("user should be approved")
	}

	if err := h.manager.RevokePairing(config.ChannelTelegram, "u1"); err != nil {
		t.Fatalf("RevokePairing: %v", err)
	}
	if h.pairing.IsApproved(config.ChannelTelegram, "u1") {
		t.Error("approval should be gone after revoke")
	}

	// The next DM creates a fresh pending request.
	h.manager.HandleInbound(inboundDM("m2", "u1", "hello again"))
	requests, _ = h.pairing.List()
	pending := 0
	for _, r := range requests {
		if r.Status == pairing.StatusPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("pending requests = %d, want 1", pending)
	}
}

func strPtr(s string) *string { return &s }
