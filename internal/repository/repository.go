// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot stores a merchant snapshot with tenant isolation.
func (r *SQLRepository) SaveSnapshot(ctx context.Context, tenantID string, snap *domain.MerchantSnapshot) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO merchant_snapshots (
			id, tenant_id, merchant_id, merchant_name, country, city,
			conversion_rate, error_rate, transaction_count, status,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.ID, tenantID, snap.MerchantID, snap.MerchantName,
		snap.Country, snap.City,
		snap.ConversionRate, snap.ErrorRate, snap.TransactionCount,
		string(snap.Status), snap.Timestamp, snap.CreatedAt,
	)
	return err
}

const snapshotColumns = `id, tenant_id, merchant_id, merchant_name, country, city,
		   conversion_rate, error_rate, transaction_count, status,
		   timestamp, created_at`

func scanSnapshot(scan func(dest ...any) error) (*domain.MerchantSnapshot, error) {
	var snap domain.MerchantSnapshot
	var status string
	err := scan(
		&snap.ID, &snap.TenantID, &snap.MerchantID, &snap.MerchantName,
		&snap.Country, &snap.City,
		&snap.ConversionRate, &snap.ErrorRate, &snap.TransactionCount,
		&status, &snap.Timestamp, &snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Status = domain.MerchantStatus(status)
	return &snap, nil
}

// ListSnapshots retrieves a merchant's snapshot history, oldest first.
func (r *SQLRepository) ListSnapshots(ctx context.Context, tenantID string, merchantID string, since time.Time) ([]*domain.MerchantSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM merchant_snapshots
		WHERE tenant_id = ? AND merchant_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, merchantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*domain.MerchantSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

// GetLatestSnapshot retrieves the most recent snapshot for a merchant.
func (r *SQLRepository) GetLatestSnapshot(ctx context.Context, tenantID string, merchantID string) (*domain.MerchantSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM merchant_snapshots
		WHERE tenant_id = ? AND merchant_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListMerchantIDs returns the distinct merchant IDs known to a tenant.
func (r *SQLRepository) ListMerchantIDs(ctx context.Context, tenantID string) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT DISTINCT merchant_id
		FROM merchant_snapshots
		WHERE tenant_id = ?
		ORDER BY merchant_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SaveResolution stores the latest location resolution for a merchant.
// One row per merchant: a new resolution replaces the previous one.
func (r *SQLRepository) SaveResolution(ctx context.Context, tenantID string, res *domain.LocationResolution) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO location_resolutions (
			id, tenant_id, merchant_id, proposed_country, proposed_city,
			confidence, method, rationale, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, merchant_id) DO UPDATE SET
			id = excluded.id,
			proposed_country = excluded.proposed_country,
			proposed_city = excluded.proposed_city,
			confidence = excluded.confidence,
			method = excluded.method,
			rationale = excluded.rationale,
			resolved_at = excluded.resolved_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.MerchantID,
		res.ProposedCountry, res.ProposedCity,
		res.Confidence, string(res.Method), res.Rationale, res.ResolvedAt,
	)
	return err
}

// GetResolution retrieves the stored resolution for a merchant.
func (r *SQLRepository) GetResolution(ctx context.Context, tenantID string, merchantID string) (*domain.LocationResolution, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, merchant_id, proposed_country, proposed_city,
			   confidence, method, rationale, resolved_at
		FROM location_resolutions
		WHERE tenant_id = ? AND merchant_id = ?
	`

	var res domain.LocationResolution
	var method string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID).Scan(
		&res.ID, &res.TenantID, &res.MerchantID,
		&res.ProposedCountry, &res.ProposedCity,
		&res.Confidence, &method, &res.Rationale, &res.ResolvedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.Method = domain.ResolutionMethod(method)
	return &res, nil
}

// SaveWatchRule stores a watch rule with tenant isolation.
func (r *SQLRepository) SaveWatchRule(ctx context.Context, tenantID string, rule *domain.WatchRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO watch_rules (
			id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), enabled,
		now, now,
	)
	return err
}

// ListWatchRules retrieves all active watch rules for a tenant.
func (r *SQLRepository) ListWatchRules(ctx context.Context, tenantID string) ([]*domain.WatchRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM watch_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.WatchRule
	for rows.Next() {
		var rule domain.WatchRule
		var bands string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &bands, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &rule.Bands)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteWatchRule soft-deletes a watch rule by setting enabled = 0.
func (r *SQLRepository) DeleteWatchRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE watch_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
