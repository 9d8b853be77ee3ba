package bus

import "sync"

// EventBus broadcasts events to registered subscribers. The orchestrator
// emits message.in/message.out and pairing events here; the gateway forwards
// them to connected WebSocket clients.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string]EventHandler),
	}
}

// Subscribe registers an event subscriber under the given ID.
func (b *EventBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Emit sends an event to all subscribers (non-blocking per subscriber).
func (b *EventBus) Emit(topic, eventType string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handler := range b.subscribers {
		handler(Event{Topic: topic, Type: eventType, Payload: payload})
	}
}
