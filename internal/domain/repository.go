// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository is the metric-store adapter. It supplies time-ordered merchant
// snapshot history and persists resolutions and watch-rule configurations.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Snapshot operations. ListSnapshots returns history ordered by
	// timestamp ascending; it may return an empty slice.
	SaveSnapshot(ctx context.Context, tenantID string, snap *MerchantSnapshot) error
	ListSnapshots(ctx context.Context, tenantID string, merchantID string, since time.Time) ([]*MerchantSnapshot, error)
	GetLatestSnapshot(ctx context.Context, tenantID string, merchantID string) (*MerchantSnapshot, error)
	ListMerchantIDs(ctx context.Context, tenantID string) ([]string, error)

	// Location resolutions. The engine never persists these itself; the
	// API layer decides whether and when to call SaveResolution.
	SaveResolution(ctx context.Context, tenantID string, res *LocationResolution) error
	GetResolution(ctx context.Context, tenantID string, merchantID string) (*LocationResolution, error)

	// Watch rule configuration operations
	SaveWatchRule(ctx context.Context, tenantID string, rule *WatchRule) error
	ListWatchRules(ctx context.Context, tenantID string) ([]*WatchRule, error)
	DeleteWatchRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
