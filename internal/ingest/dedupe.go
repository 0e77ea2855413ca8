package ingest

import "time"

// DedupeCache is a TTL membership set over event identifiers. It suppresses
// reprocessing across broker retries within the TTL window; the relational
// unique constraints remain the deduplication authority.
//
// The cache is owned by the processor goroutine and is not safe for
// concurrent use.
type DedupeCache struct {
	ttl   time.Duration
	items map[string]time.Time
}

// NewDedupeCache constructs a cache whose entries live for ttl.
func NewDedupeCache(ttl time.Duration) *DedupeCache {
	return &DedupeCache{
		ttl:   ttl,
		items: make(map[string]time.Time),
	}
}

// Seen reports whether key has an unexpired entry. A miss records the key
// with expiry now+TTL, so the caller proceeds to process exactly once per
// TTL window.
func (c *DedupeCache) Seen(key string, now time.Time) bool {
	if expiry, ok := c.items[key]; ok && expiry.After(now) {
		return true
	}
	c.items[key] = now.Add(c.ttl)
	return false
}

// Cleanup drops every entry whose expiry is at or before now.
func (c *DedupeCache) Cleanup(now time.Time) {
	for key, expiry := range c.items {
		if !expiry.After(now) {
			delete(c.items, key)
		}
	}
}

// Len returns the number of tracked keys, expired entries included.
func (c *DedupeCache) Len() int {
	return len(c.items)
}
