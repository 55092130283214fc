// Package matchcache memoizes external-event to venue-event pairings for a
// bounded time.
package matchcache

import (
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// DefaultTTL is how long a pairing stays valid.
const DefaultTTL = 30 * time.Minute

// CachedMatch is one memoized pairing with the markets found for it.
type CachedMatch struct {
	Key       string
	EventID   string
	Markets   []domain.MarketQuote
	Timestamp time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer valid at now.
func (m CachedMatch) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Cache is safe for concurrent use. Every operation holds a single mutex.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CachedMatch
	ttl     time.Duration
	now     func() time.Time
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]CachedMatch),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the entry for key. Expired entries are evicted and reported
// as absent.
func (c *Cache) Get(key string) (CachedMatch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.entries[key]
	if !ok {
		return CachedMatch{}, false
	}
	if m.Expired(c.now()) {
		delete(c.entries, key)
		return CachedMatch{}, false
	}
	return cloneMatch(m), true
}

// Set inserts or overwrites key with a fresh TTL.
func (c *Cache) Set(key, eventID string, markets []domain.MarketQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = CachedMatch{
		Key:       key,
		EventID:   eventID,
		Markets:   append([]domain.MarketQuote(nil), markets...),
		Timestamp: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// ClearExpired sweeps every expired entry and returns how many were removed.
func (c *Cache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, m := range c.entries {
		if m.Expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CachedMatch)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func cloneMatch(m CachedMatch) CachedMatch {
	m.Markets = append([]domain.MarketQuote(nil), m.Markets...)
	return m
}
