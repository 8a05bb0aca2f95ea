// Package dedup provides the in-memory set of message ids already evaluated
// for notification purposes.
//
// Both the push-driven listener and the timer-driven poller feed off the same
// cache, so a message delivered through both paths at once still produces at
// most one notification.
package dedup

import (
	"log/slog"
	"sync"
)

// DefaultMaxEntries is the cache size at which the whole set is discarded.
const DefaultMaxEntries = 1000

// SeenCache is a bounded set of processed message identifiers.
//
// The bound is enforced by clearing the set wholesale once it grows past the
// cap, not by evicting individual entries. After a clear, very old messages
// may briefly re-notify; that imprecision is tolerated.
type SeenCache struct {
	mu         sync.Mutex
	ids        map[string]struct{}
	maxEntries int
}

// NewSeenCache creates a SeenCache with the given cap. A non-positive cap
// falls back to DefaultMaxEntries.
func NewSeenCache(maxEntries int) *SeenCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &SeenCache{
		ids:        make(map[string]struct{}),
		maxEntries: maxEntries,
	}
}

// MarkIfNew records the id and reports whether this is the first time it has
// been seen since the last clear. The check and the insert happen under one
// lock, so two concurrent deliveries of the same id cannot both observe it
// as new.
//
// If the cache has grown past its cap, it is cleared wholesale before the new
// id is recorded.
func (c *SeenCache) MarkIfNew(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.ids[id]; seen {
		return false
	}

	if len(c.ids) > c.maxEntries {
		slog.Debug("SeenCache clearing oversized cache", "size", len(c.ids), "max", c.maxEntries)
		c.ids = make(map[string]struct{})
	}

	c.ids[id] = struct{}{}
	return true
}

// Contains reports whether the id is currently recorded, without mutating
// the cache.
func (c *SeenCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, seen := c.ids[id]
	return seen
}

// Len returns the number of recorded ids.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Clear discards every recorded id.
func (c *SeenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]struct{})
}
