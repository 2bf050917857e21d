// Duplicate-delivery suppression.
//
// WhatsApp redelivers webhook events until they are acknowledged, and users
// occasionally trigger double deliveries of the same message id. The Deduper
// remembers every id it has seen for a fixed TTL so retries are dropped
// before they reach the bot backend.
//
// Entries expire lazily against an injected clock rather than with
// per-entry timers, which keeps the structure portable and testable; an
// opportunistic sweep bounds memory between hits.
package services

import (
	"sync"
	"time"
)

// sweepEvery is how many Seen calls pass between full expiry sweeps.
const sweepEvery = 1024

// Deduper is a TTL-keyed set of already-processed message ids. It is safe
// for concurrent use.
type Deduper struct {
	ttl time.Duration

	// Now is the clock; tests override it.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time // id -> expiry
	calls   uint64
}

// NewDeduper builds a Deduper with the given suppression window.
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{
		ttl:     ttl,
		Now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Seen reports whether id was already recorded within the TTL and records
// it when it was not. An empty id is never deduplicated: the event is
// processed, matching the channel's degraded deliveries that omit ids.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	now := d.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++
	if d.calls%sweepEvery == 0 {
		d.sweepLocked(now)
	}

	if exp, ok := d.entries[id]; ok && now.Before(exp) {
		return true
	}
	d.entries[id] = now.Add(d.ttl)
	return false
}

// Len returns the number of tracked ids, expired entries included.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// sweepLocked drops every expired entry. Caller holds d.mu.
func (d *Deduper) sweepLocked(now time.Time) {
	for id, exp := range d.entries {
		if !now.Before(exp) {
			delete(d.entries, id)
		}
	}
}
