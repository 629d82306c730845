package executor

import (
	"sync"
	"time"
)

// Dedup remembers source event ids for a TTL so a redelivered signal is
// dispatched at most once per replica. It is safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[int64]time.Time // event id -> first claim
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[int64]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records eventID and reports true, unless it was already claimed
// within the TTL, in which case it reports false.
func (d *Dedup) Claim(eventID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[eventID]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[eventID] = now
	return true
}

// Release forgets eventID so a later delivery may be dispatched.
func (d *Dedup) Release(eventID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
}

// Cleanup drops expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of remembered event ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
