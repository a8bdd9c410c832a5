package marketdata

import (
	"testing"
	"time"
)

func TestTickCacheLatest(t *testing.T) {
	cache := NewTickCache()
	now := time.Now()

	if _, ok := cache.Latest("SLV", 0); ok {
		t.Fatal("Latest() on empty cache reported a tick")
	}

	cache.Update(Tick{Symbol: "SLV", Price: 24.5, Timestamp: now})
	tick, ok := cache.Latest("SLV", 0)
	if !ok || tick.Price != 24.5 {
		t.Fatalf("Latest() = %+v, %v, want price 24.5", tick, ok)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", cache.Len())
	}
}

func TestTickCacheDropsOutOfOrder(t *testing.T) {
	cache := NewTickCache()
	now := time.Now()

	cache.Update(Tick{Symbol: "SLV", Price: 25.0, Timestamp: now})
	cache.Update(Tick{Symbol: "SLV", Price: 24.0, Timestamp: now.Add(-time.Minute)})

	tick, ok := cache.Latest("SLV", 0)
	if !ok || tick.Price != 25.0 {
		t.Fatalf("Latest() = %+v, want the newer 25.0 tick kept", tick)
	}
}

func TestTickCacheStaleness(t *testing.T) {
	cache := NewTickCache()
	cache.Update(Tick{Symbol: "SLV", Price: 24.5, Timestamp: time.Now().Add(-time.Hour)})

	if _, ok := cache.Latest("SLV", time.Minute); ok {
		t.Fatal("Latest() returned a tick older than maxAge")
	}
	if _, ok := cache.Latest("SLV", 0); !ok {
		t.Fatal("Latest() with zero maxAge should skip the staleness check")
	}
}
