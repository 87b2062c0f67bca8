package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Backed by a local LRU (Community) or Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetDashboard retrieves a cached dashboard payload.
	// Returns nil, nil if not cached.
	GetDashboard(ctx context.Context, key string) (*Dashboard, error)

	// SetDashboard caches a dashboard payload.
	SetDashboard(ctx context.Context, key string, d *Dashboard, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase layers the local LRU in front of Redis
	EnableTwoPhase bool
}
