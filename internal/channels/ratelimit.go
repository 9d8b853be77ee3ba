package channels

import (
	"sync"
	"time"
)

// rateWindow is the sliding window over which sender messages are counted.
const rateWindow = 60 * time.Second

// RateLimiter is a per-sender sliding window limiter. One instance exists
// per channel, created lazily with that channel's configured limit.
type RateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing maxPerMinute accepted messages
// per sender within any trailing 60-second window.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	return &RateLimiter{
		hits:   make(map[string][]time.Time),
		max:    maxPerMinute,
		window: rateWindow,
		now:    time.Now,
	}
}

// Allow prunes timestamps older than the window, then accepts iff the
// remaining count is below the limit, recording the new timestamp on
// acceptance. Rejection has no side effects.
func (rl *RateLimiter) Allow(senderID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	entries := rl.hits[senderID]
	start := 0
	for start < len(entries) && !entries[start].After(cutoff) {
		start++
	}
	entries = entries[start:]

	if len(entries) >= rl.max {
		rl.hits[senderID] = entries
		return false
	}

	rl.hits[senderID] = append(entries, now)
	return true
}

// Cleanup drops senders whose entire window has aged out. Called
// opportunistically by the manager; prevents unbounded growth from
// one-off senders.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	for key, entries := range rl.hits {
		start := 0
		for start < len(entries) && !entries[start].After(cutoff) {
			start++
		}
		if start == len(entries) {
			delete(rl.hits, key)
		} else {
			rl.hits[key] = entries[start:]
		}
	}
}
