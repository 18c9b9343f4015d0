package datalog

import (
	"sync"
	"time"
)

// ValueCache remembers the last recorded register set per servo for a TTL.
// Safe for concurrent use.
type ValueCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[int]entry
}

type entry struct {
	sum string
	at  time.Time
}

// NewValueCache creates a cache with the given TTL. If ttl <= 0, it defaults to 1h.
func NewValueCache(ttl time.Duration) *ValueCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ValueCache{ttl: ttl, now: time.Now, data: make(map[int]entry)}
}

// Changed reports whether r differs from the last row recorded for its servo,
// or that row has expired. A changed row becomes the new reference.
func (c *ValueCache) Changed(r Row) bool {
	sum := r.fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.data[r.Servo]; ok && e.sum == sum && now.Sub(e.at) <= c.ttl {
		return false
	}
	c.data[r.Servo] = entry{sum: sum, at: now}
	return true
}

// Forget drops the reference for a servo so its next row is always recorded.
func (c *ValueCache) Forget(id int) {
	c.mu.Lock()
	delete(c.data, id)
	c.mu.Unlock()
}
