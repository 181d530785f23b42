package message

import (
	"sync"
	"time"
)

// Dedup rejects keys seen within a TTL window. The gateway uses it to drop
// resubmitted send requests carrying the same request id.
type Dedup struct {
	mu    sync.Mutex
	cache map[string]time.Time
	ttl   time.Duration
	now   func() time.Time
}

func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		cache: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
	}
}

// IsDuplicate returns true if this key was seen within the TTL.
// If not a duplicate, records it and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if seen, exists := d.cache[key]; exists && d.now().Sub(seen) < d.ttl {
		return true
	}
	d.cache[key] = d.now()
	return false
}

// Forget drops a key so it can be submitted again (used when a send fails
// before reaching the transport).
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, key)
}

// Prune removes expired keys and returns how many were dropped.
func (d *Dedup) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := d.now().Add(-d.ttl)
	n := 0
	for k, t := range d.cache {
		if t.Before(cutoff) {
			delete(d.cache, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}
