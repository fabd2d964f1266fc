package sqlite

// Schema contains the SQL statements to create the database schema for SQLite.
// The last_signal and gate_history columns store JSON so the full signal and
// gate event history travel with the relation record.
const Schema = `
-- Relations table: per-relationship rupture state
CREATE TABLE IF NOT EXISTS relations (
    id TEXT PRIMARY KEY,

    -- The four primitives, each in [0, 1]
    trust REAL NOT NULL DEFAULT 1.0,
    intent REAL NOT NULL DEFAULT 1.0,
    narrative REAL NOT NULL DEFAULT 1.0,
    commitments REAL NOT NULL DEFAULT 1.0,

    -- Last computed rupture risk, in [0, 1]
    rupture_risk REAL NOT NULL DEFAULT 0.0,

    -- Gate state
    gate_status TEXT NOT NULL DEFAULT 'open',
    pending_repair INTEGER NOT NULL DEFAULT 0,

    -- Most recent emitted signal (JSON), NULL if none
    last_signal TEXT,

    -- Append-only gate event history (JSON array)
    gate_history TEXT,

    -- Timestamps
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Index for listing blocked relationships
CREATE INDEX IF NOT EXISTS idx_relations_gate_status ON relations(gate_status);

-- Index for risk-threshold queries
CREATE INDEX IF NOT EXISTS idx_relations_rupture_risk ON relations(rupture_risk);
`
