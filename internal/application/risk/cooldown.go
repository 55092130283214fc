package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// DefaultCooldown is how long an event is blocked after a stop-loss exit.
const DefaultCooldown = 180 * time.Minute

// Cooldowns blocks new entries on events that were recently stopped out.
// Keys are normalized event keys.
type Cooldowns struct {
	mu            sync.Mutex
	entries       map[string]domain.Cooldown
	window        time.Duration
	allowRecovery bool
}

// NewCooldowns creates an empty registry. With allowRecovery, an event is
// released early once its price trades back to the stopped entry price.
func NewCooldowns(window time.Duration, allowRecovery bool) *Cooldowns {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &Cooldowns{
		entries:       make(map[string]domain.Cooldown),
		window:        window,
		allowRecovery: allowRecovery,
	}
}

// Mark starts a cooldown for eventID.
func (c *Cooldowns) Mark(eventID string, entryPrice *float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain.EventKey(eventID)] = domain.Cooldown{At: at, EntryPrice: entryPrice}
}

// Active reports whether new entries on eventID are blocked at now.
// currentPrice may be nil when no quote is available.
func (c *Cooldowns) Active(eventID string, currentPrice *float64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := domain.EventKey(eventID)
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.allowRecovery && currentPrice != nil && e.EntryPrice != nil && *e.EntryPrice > 0 &&
		*currentPrice >= *e.EntryPrice {
		slog.Info("risk: cooldown released on price recovery",
			"event", eventID, "price", *currentPrice, "entry", *e.EntryPrice)
		delete(c.entries, key)
		return false
	}
	return now.Sub(e.At) < c.window
}

// Prune drops entries whose window has elapsed and returns how many.
func (c *Cooldowns) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.At) >= c.window {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Entries returns a copy of the registry, for persistence.
func (c *Cooldowns) Entries() map[string]domain.Cooldown {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Cooldown, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Restore replaces the registry with persisted entries.
func (c *Cooldowns) Restore(entries map[string]domain.Cooldown) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]domain.Cooldown, len(entries))
	for k, v := range entries {
		c.entries[domain.EventKey(k)] = v
	}
}
