// Package session provides the conversation collaborators the channel
// orchestrator depends on: an in-memory transcript store, an
// OpenAI-compatible model invoker and the inline directive parser.
package session

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
)

// maxTranscriptMessages bounds per-session history. Oldest messages are
// dropped first; the system prompt always survives.
const maxTranscriptMessages = 40

// MemoryStore keeps transcripts in memory, keyed by channel:chatID.
// Restarting the process starts every conversation fresh.
type MemoryStore struct {
	mu           sync.Mutex
	transcripts  map[string][]channels.ModelMessage
	systemPrompt string
}

// NewMemoryStore creates a store. systemPrompt, when non-empty, leads every
// transcript.
func NewMemoryStore(systemPrompt string) *MemoryStore {
	return &MemoryStore{
		transcripts:  make(map[string][]channels.ModelMessage),
		systemPrompt: systemPrompt,
	}
}

// EnsureSession returns the session key for a conversation, creating the
// transcript on first use.
func (s *MemoryStore) EnsureSession(_ context.Context, channel, chatID string) (string, error) {
	key := channel + ":" + chatID

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transcripts[key]; !ok {
		s.transcripts[key] = nil
	}
	return key, nil
}

// AppendUser records a user message.
func (s *MemoryStore) AppendUser(_ context.Context, session, text string) error {
	s.append(session, channels.ModelMessage{Role: "user", Content: text})
	return nil
}

// AppendAssistant records an assistant reply.
func (s *MemoryStore) AppendAssistant(_ context.Context, session, text string) error {
	s.append(session, channels.ModelMessage{Role: "assistant", Content: text})
	return nil
}

// BuildTranscript returns the model-ready history, system prompt first.
func (s *MemoryStore) BuildTranscript(_ context.Context, session string) ([]channels.ModelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.transcripts[session]
	out := make([]channels.ModelMessage, 0, len(history)+1)
	if s.systemPrompt != "" {
		out = append(out, channels.ModelMessage{Role: "system", Content: s.systemPrompt})
	}
	out = append(out, history...)
	return out, nil
}

// Reset discards a session's history.
func (s *MemoryStore) Reset(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transcripts, session)
	return nil
}

func (s *MemoryStore) append(session string, msg channels.ModelMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.transcripts[session], msg)
	if len(history) > maxTranscriptMessages {
		history = history[len(history)-maxTranscriptMessages:]
	}
	s.transcripts[session] = history
}
