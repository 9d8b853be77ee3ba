// Package bus carries the message types exchanged between channel adapters
// and the orchestrator, the in-process event bus, and the inbound debouncer.
package bus

import "time"

// Chat types for inbound messages.
const (
	ChatDirect = "direct"
	ChatGroup  = "group"
)

// InboundMessage is a message received from a chat platform.
// Adapters construct one per platform event; it is immutable once built
// except for Content, which the processing path may enrich with media
// annotations before forwarding downstream.
type InboundMessage struct {
	ID         string         `json:"id"`
	Channel    string         `json:"channel"`
	SenderID   string         `json:"sender_id"`
	SenderName string         `json:"sender_name,omitempty"`
	ChatID     string         `json:"chat_id"`
	Content    string         `json:"content"`
	MediaURL   string         `json:"media_url,omitempty"`
	MediaSize  int64          `json:"media_size,omitempty"` // bytes, 0 = unknown/none
	ThreadID   string         `json:"thread_id,omitempty"`
	ChatType   string         `json:"chat_type"` // "direct" or "group"
	Timestamp  time.Time      `json:"timestamp"`
	Raw        map[string]any `json:"-"` // original platform payload
}

// Event is broadcast to event subscribers (gateway clients, tests).
type Event struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers must be non-blocking.
type EventHandler func(event Event)
