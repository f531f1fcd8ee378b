package upstream

import "time"

// FailureEntry records that one endpoint key recently failed.
type FailureEntry struct {
	EndpointKey      string
	FirstFailedAt    time.Time
	RetryNotBeforeAt time.Time
	StatusCode       int
}

// FailureCache is the scheduler's negative cache. It is not safe for
// concurrent use; only the scheduler worker touches it.
type FailureCache struct {
	ttl     time.Duration
	entries map[string]*FailureEntry
}

// NewFailureCache creates a cache whose entries live at most ttl.
func NewFailureCache(ttl time.Duration) *FailureCache {
	return &FailureCache{
		ttl:     ttl,
		entries: make(map[string]*FailureEntry),
	}
}

// Record notes a failure of key at now. A retryAfter of zero or less means
// the entry blocks retries for the full TTL. Repeated failures keep the
// original FirstFailedAt.
func (c *FailureCache) Record(key string, statusCode int, now time.Time, retryAfter time.Duration) FailureEntry {
	if retryAfter <= 0 || retryAfter > c.ttl {
		retryAfter = c.ttl
	}

	entry, ok := c.entries[key]
	if !ok || c.expired(entry, now) {
		entry = &FailureEntry{EndpointKey: key, FirstFailedAt: now}
		c.entries[key] = entry
	}
	entry.StatusCode = statusCode
	entry.RetryNotBeforeAt = now.Add(retryAfter)
	return *entry
}

// Lookup returns the live entry for key. Expired entries are removed.
func (c *FailureCache) Lookup(key string, now time.Time) (FailureEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return FailureEntry{}, false
	}
	if c.expired(entry, now) {
		delete(c.entries, key)
		return FailureEntry{}, false
	}
	return *entry, true
}

// Purge drops every expired entry and returns how many were removed.
func (c *FailureCache) Purge(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, live or not yet purged.
func (c *FailureCache) Len() int {
	return len(c.entries)
}

func (c *FailureCache) expired(entry *FailureEntry, now time.Time) bool {
	return !now.Before(entry.RetryNotBeforeAt) || now.Sub(entry.FirstFailedAt) >= c.ttl
}
