package marketdata

import (
	"sync"
	"time"
)

// TickCache keeps the most recent streamed tick per symbol. The feed
// goroutine writes into it and the trading loop reads from it, so all
// access is mutex guarded.
type TickCache struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

// NewTickCache returns an empty cache.
func NewTickCache() *TickCache {
	return &TickCache{ticks: make(map[string]Tick)}
}

// Update stores a tick, replacing any older one for the same symbol.
// Out-of-order ticks are dropped.
func (c *TickCache) Update(tick Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.ticks[tick.Symbol]; ok && tick.Timestamp.Before(prev.Timestamp) {
		return
	}
	c.ticks[tick.Symbol] = tick
}

// Latest returns the freshest tick for a symbol if its age is within
// maxAge. A zero maxAge disables the staleness check.
func (c *TickCache) Latest(symbol string, maxAge time.Duration) (Tick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.ticks[symbol]
	if !ok {
		return Tick{}, false
	}
	if maxAge > 0 && time.Since(tick.Timestamp) > maxAge {
		return Tick{}, false
	}
	return tick, true
}

// Len reports how many symbols currently hold a cached tick.
func (c *TickCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks)
}
