package bus

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// InboundDebouncer buffers rapid inbound messages for the same conversation
// and merges them into a single message before calling flushFn. This prevents
// one agent run per message when a user sends several short messages in
// quick succession.
//
// Keys are conversation identities (channel:chatID); keys never block each
// other and each key's flush fires exactly once per quiet period.
type InboundDebouncer struct {
	window  time.Duration
	mu      sync.Mutex
	buffers map[string]*debounceBuffer
	flushFn func(InboundMessage)
}

type debounceBuffer struct {
	messages []InboundMessage
	timer    *time.Timer
}

// NewInboundDebouncer creates a debouncer with the given quiet window and
// flush callback. If window <= 0, messages pass through immediately.
func NewInboundDebouncer(window time.Duration, flushFn func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		window:  window,
		buffers: make(map[string]*debounceBuffer),
		flushFn: flushFn,
	}
}

// Enqueue adds a message to the debounce buffer. Non-blocking.
// Media messages bypass the buffer: any pending text for the conversation is
// flushed first, then the media message is delivered on its own.
func (d *InboundDebouncer) Enqueue(msg InboundMessage) {
	if d.window <= 0 {
		d.flushFn(msg)
		return
	}

	key := conversationKey(msg)

	if msg.MediaURL != "" {
		d.flushKey(key)
		d.flushFn(msg)
		return
	}

	d.mu.Lock()
	buf, exists := d.buffers[key]
	if !exists {
		buf = &debounceBuffer{}
		d.buffers[key] = buf
	}

	buf.messages = append(buf.messages, msg)

	// Reset the timer — the flush fires after a full quiet window.
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(d.window, func() {
		d.flushKey(key)
	})
	buffered := len(buf.messages)
	d.mu.Unlock()

	slog.Debug("inbound debounce: buffered", "key", key, "count", buffered)
}

// Stop flushes all pending buffers immediately (graceful shutdown).
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.buffers))
	for k := range d.buffers {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.flushKey(key)
	}
}

// flushKey merges and flushes all buffered messages for a key.
func (d *InboundDebouncer) flushKey(key string) {
	d.mu.Lock()
	buf, exists := d.buffers[key]
	if !exists || len(buf.messages) == 0 {
		d.mu.Unlock()
		return
	}

	if buf.timer != nil {
		buf.timer.Stop()
	}

	msgs := buf.messages
	delete(d.buffers, key)
	d.mu.Unlock()

	merged := mergeInbound(msgs)

	if len(msgs) > 1 {
		slog.Info("inbound debounce: merged burst", "key", key, "count", len(msgs))
	}

	d.flushFn(merged)
}

// conversationKey builds the buffer key: channel:chatID.
func conversationKey(msg InboundMessage) string {
	return msg.Channel + ":" + msg.ChatID
}

// mergeInbound combines a burst into one message: texts are joined with
// newlines in arrival order, every other field comes from the most recent
// message.
func mergeInbound(msgs []InboundMessage) InboundMessage {
	if len(msgs) == 1 {
		return msgs[0]
	}

	last := msgs[len(msgs)-1]

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	last.Content = strings.Join(parts, "\n")

	return last
}
