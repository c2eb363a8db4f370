// Package cache holds in-flight pairing attempts in memory.
package cache

import (
	"sync"
	"time"

	"github.com/openclaw/plex-auth-server/internal/model"
)

// DefaultTTL is how long a pairing stays pollable.
const DefaultTTL = 600 * time.Second

type entry struct {
	record    model.PairingRecord
	expiresAt time.Time
}

// PairingCache maps pairing ids to records. A single mutex guards every
// operation and is never held across I/O.
type PairingCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type Option func(*PairingCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *PairingCache) {
		c.now = now
	}
}

func NewPairingCache(opts ...Option) *PairingCache {
	c := &PairingCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put stores rec under id, replacing any existing entry. A non-positive ttl
// means DefaultTTL. The stored record's ExpiresAt is set from the cache clock.
func (c *PairingCache) Put(id string, rec model.PairingRecord, ttl time.Duration) model.PairingRecord {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.ExpiresAt = now.Add(ttl)
	if rec.State == "" {
		rec.State = model.PairingStatePending
	}
	c.entries[id] = entry{record: rec, expiresAt: rec.ExpiresAt}
	return rec
}

// Get returns the live record for id. An expired entry is removed and
// reported as missing.
func (c *PairingCache) Get(id string) (model.PairingRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.getLocked(id)
}

func (c *PairingCache) getLocked(id string) (model.PairingRecord, bool) {
	e, ok := c.entries[id]
	if !ok {
		return model.PairingRecord{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, id)
		return model.PairingRecord{}, false
	}
	return e.record, true
}

// Take removes and returns the live record for id. Exactly one of any number
// of concurrent callers gets ok == true.
func (c *PairingCache) Take(id string) (model.PairingRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.getLocked(id)
	if ok {
		delete(c.entries, id)
	}
	return rec, ok
}

// Delete removes id. Missing ids are ignored.
func (c *PairingCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *PairingCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len counts entries, including expired ones not yet swept.
func (c *PairingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
