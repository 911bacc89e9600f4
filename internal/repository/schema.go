package repository

// Schema definitions for Kestrel's metric store.
// Compatible with both SQLite and PostgreSQL.

const schemaSnapshots = `
CREATE TABLE IF NOT EXISTS merchant_snapshots (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    merchant_name TEXT NOT NULL,
    country TEXT,
    city TEXT,
    conversion_rate REAL NOT NULL,
    error_rate REAL NOT NULL,
    transaction_count INTEGER NOT NULL,
    status TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_tenant ON merchant_snapshots(tenant_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_merchant ON merchant_snapshots(tenant_id, merchant_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON merchant_snapshots(tenant_id, merchant_id, timestamp);
`

const schemaResolutions = `
CREATE TABLE IF NOT EXISTS location_resolutions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    proposed_country TEXT NOT NULL,
    proposed_city TEXT,
    confidence REAL NOT NULL,
    method TEXT NOT NULL,
    rationale TEXT,
    resolved_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, merchant_id)
);

CREATE INDEX IF NOT EXISTS idx_resolutions_tenant ON location_resolutions(tenant_id);
`

const schemaWatchRules = `
CREATE TABLE IF NOT EXISTS watch_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_watch_rules_tenant ON watch_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_watch_rules_enabled ON watch_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSnapshots,
		schemaResolutions,
		schemaWatchRules,
	}
}
