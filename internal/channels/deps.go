package channels

import "context"

// ModelMessage is one entry of a model-ready transcript.
type ModelMessage struct {
	Role    string `json:"role"` // "user" | "assistant" | "system"
	Content string `json:"content"`
}

// SessionService is the external conversation/session collaborator.
type SessionService interface {
	// EnsureSession creates or returns the session key for a conversation.
	EnsureSession(ctx context.Context, channel, chatID string) (string, error)
	AppendUser(ctx context.Context, session, text string) error
	AppendAssistant(ctx context.Context, session, text string) error
	// BuildTranscript returns the model-ready message history.
	BuildTranscript(ctx context.Context, session string) ([]ModelMessage, error)
	Reset(ctx context.Context, session string) error
}

// ModelInvoker obtains a model response for a transcript.
type ModelInvoker func(ctx context.Context, messages []ModelMessage) (string, error)

// MediaPipeline is the external media download/understanding collaborator.
// Describe returns a short text annotation (image description, audio
// transcription) for the media behind url.
type MediaPipeline interface {
	Describe(ctx context.Context, url string, maxBytes int64) (string, error)
}

// Directives are inline control commands extracted from message text.
type Directives struct {
	Reset bool
}

// DirectiveParser extracts directives and returns the cleaned text.
type DirectiveParser func(text string) (Directives, string)

// EventEmitter publishes structured events (message.in/out, pairing).
type EventEmitter interface {
	Emit(topic, eventType string, payload any)
}
