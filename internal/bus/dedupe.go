package bus

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DedupeCache remembers recently seen message IDs so platform redeliveries
// (webhook retries, reconnect replays) are processed at most once.
type DedupeCache struct {
	cache *expirable.LRU[string, struct{}]
}

// NewDedupeCache creates a dedup cache. Entries expire after ttl; at most
// maxSize keys are tracked, oldest evicted first.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// IsDuplicate reports whether key was already seen within the TTL window.
// If not, the key is recorded for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
