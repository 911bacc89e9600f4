package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetInsight retrieves the last successful AI insight for a merchant.
	GetInsight(ctx context.Context, tenantID string, merchantID string) (*Insight, error)

	// SetInsight caches an AI insight so it can be served when the AI
	// backend later fails or is rate limited.
	SetInsight(ctx context.Context, tenantID string, merchantID string, insight *Insight, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used to track AI-backend call volume within a time window.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

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

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// InsightTTL bounds how long a cached AI insight may be served.
	InsightTTL time.Duration
}
