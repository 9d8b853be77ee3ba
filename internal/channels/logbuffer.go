package channels

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLogCap is the ring buffer capacity for channel log entries.
const DefaultLogCap = 500

// Log levels.
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// LogEntry is one append-only observability record for a channel.
type LogEntry struct {
	ID      string         `json:"id"`
	TS      time.Time      `json:"ts"`
	Channel string         `json:"channel"`
	Level   string         `json:"level"`
	Event   string         `json:"event"`
	Message string         `json:"message"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// LogBuffer is a fixed-cap ring of log entries; oldest entries drop first.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	cap     int
	now     func() time.Time
}

// NewLogBuffer creates a ring buffer holding at most capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCap
	}
	return &LogBuffer{cap: capacity, now: time.Now}
}

// Append records an entry, assigning its ID and timestamp.
func (lb *LogBuffer) Append(channel, level, event, message string, meta map[string]any) LogEntry {
	entry := LogEntry{
		ID:      uuid.NewString(),
		TS:      lb.now(),
		Channel: channel,
		Level:   level,
		Event:   event,
		Message: message,
		Meta:    meta,
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries = append(lb.entries, entry)
	if len(lb.entries) > lb.cap {
		lb.entries = lb.entries[len(lb.entries)-lb.cap:]
	}
	return entry
}

// List returns entries newest-last, optionally filtered by channel and
// limited to the most recent limit entries (0 = all).
func (lb *LogBuffer) List(channel string, limit int) []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	out := make([]LogEntry, 0, len(lb.entries))
	for _, e := range lb.entries {
		if channel != "" && e.Channel != channel {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
