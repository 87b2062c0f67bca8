package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-logistics/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be present
		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to survive eviction")
		}
	})

	t.Run("DashboardRoundTrip", func(t *testing.T) {
		d := &domain.Dashboard{
			Metrics: &domain.Metrics{TotalShipments: 5, PotentialSavings: 320.50},
			ExceptionsByType: map[domain.ExceptionType]domain.TypeBreakdown{
				domain.ExceptionRateAbuse: {Count: 2, Savings: 120},
			},
		}

		if err := cache.SetDashboard(ctx, "30d", d, time.Minute); err != nil {
			t.Fatalf("SetDashboard failed: %v", err)
		}

		got, err := cache.GetDashboard(ctx, "30d")
		if err != nil {
			t.Fatalf("GetDashboard failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached dashboard")
		}
		if got.Metrics.TotalShipments != 5 {
			t.Errorf("expected 5 shipments, got %d", got.Metrics.TotalShipments)
		}
		if got.ExceptionsByType[domain.ExceptionRateAbuse].Count != 2 {
			t.Errorf("unexpected breakdown: %+v", got.ExceptionsByType)
		}
	})

	t.Run("DashboardMiss", func(t *testing.T) {
		got, err := cache.GetDashboard(ctx, "missing")
		if err != nil {
			t.Fatalf("GetDashboard failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil on miss, got %+v", got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		size, capacity := cache.Stats()
		if capacity != 100 {
			t.Errorf("expected capacity 100, got %d", capacity)
		}
		if size == 0 {
			t.Error("expected non-empty cache")
		}
	})
}

func TestFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
