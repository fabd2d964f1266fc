// Package postgres provides a PostgreSQL implementation of storage.RelationStore.
package postgres

// Schema contains the SQL statements to create the database schema for
// PostgreSQL. All statements are idempotent (IF NOT EXISTS) so applying the
// schema on startup is safe.
const Schema = `
-- Relations table: per-relationship rupture state
CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,

    -- The four primitives, each in [0, 1]
    trust DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    intent DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    narrative DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    commitments DOUBLE PRECISION NOT NULL DEFAULT 1.0,

    -- Last computed rupture risk, in [0, 1]
    rupture_risk DOUBLE PRECISION NOT NULL DEFAULT 0.0,

    -- Gate state
    gate_status TEXT NOT NULL DEFAULT 'open',
    pending_repair BOOLEAN NOT NULL DEFAULT FALSE,

    -- Most recent emitted signal, NULL if none
    last_signal JSONB,

    -- Append-only gate event history
    gate_history JSONB,

    -- Timestamps
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Index for listing blocked relationships
CREATE INDEX IF NOT EXISTS idx_relations_gate_status ON relations(gate_status);

-- Index for risk-threshold queries
CREATE INDEX IF NOT EXISTS idx_relations_rupture_risk ON relations(rupture_risk);
`
