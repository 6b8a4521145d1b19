package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema
// migrations. Pass ":memory:" for an in-memory database (useful for tests).
func NewDB(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Enable foreign keys.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    did TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    public_key BLOB,
    trust_score REAL DEFAULT 0.5,
    reputation INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    capabilities TEXT NOT NULL DEFAULT '[]',
    metadata TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    last_active_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS identities (
    did TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    document BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (agent_id) REFERENCES agents(id)
);

CREATE TABLE IF NOT EXISTS capabilities (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    issuer TEXT NOT NULL,
    actions TEXT NOT NULL,
    resources TEXT NOT NULL,
    conditions TEXT NOT NULL DEFAULT '[]',
    not_before INTEGER NOT NULL,
    expiration INTEGER NOT NULL,
    issued_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    revoked_at INTEGER,
    revoked_by TEXT,
    revoke_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_capabilities_subject ON capabilities(subject);
CREATE INDEX IF NOT EXISTS idx_capabilities_issuer ON capabilities(issuer);

CREATE TABLE IF NOT EXISTS delegations (
    id TEXT PRIMARY KEY,
    capability_id TEXT NOT NULL,
    delegator TEXT NOT NULL,
    delegatee TEXT NOT NULL,
    actions TEXT NOT NULL,
    resources TEXT NOT NULL,
    expiration INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (capability_id) REFERENCES capabilities(id)
);

CREATE TABLE IF NOT EXISTS attestations (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    issuer TEXT NOT NULL,
    subject TEXT NOT NULL,
    claims TEXT NOT NULL DEFAULT '[]',
    issued_at INTEGER NOT NULL,
    expires_at INTEGER,
    revoked_at INTEGER,
    revoked_by TEXT,
    revoke_reason TEXT,
    proof TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attestations_subject ON attestations(subject);
CREATE INDEX IF NOT EXISTS idx_attestations_issuer ON attestations(issuer);

CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    source_agent_id TEXT NOT NULL,
    target_agent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    trust_level REAL NOT NULL,
    permissions TEXT NOT NULL DEFAULT '[]',
    established_at INTEGER NOT NULL,
    last_interaction_at INTEGER NOT NULL,
    interaction_count INTEGER DEFAULT 0,
    UNIQUE (source_agent_id, target_agent_id, type),
    FOREIGN KEY (source_agent_id) REFERENCES agents(id),
    FOREIGN KEY (target_agent_id) REFERENCES agents(id)
);

CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    metadata TEXT,
    related_agent_ids TEXT
);
CREATE INDEX IF NOT EXISTS idx_activities_agent_ts ON activities(agent_id, timestamp);

CREATE TABLE IF NOT EXISTS trust_scores (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    score REAL NOT NULL,
    factors TEXT NOT NULL DEFAULT '{}',
    calculated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trust_scores_agent ON trust_scores(agent_id, calculated_at);

CREATE TABLE IF NOT EXISTS anomalies (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence REAL NOT NULL,
    indicators TEXT NOT NULL DEFAULT '[]',
    recommended_action TEXT,
    detected_at INTEGER NOT NULL,
    resolved_at INTEGER,
    resolution TEXT
);
CREATE INDEX IF NOT EXISTS idx_anomalies_agent ON anomalies(agent_id, detected_at);
`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}

// marshalJSON serializes v for storage in a TEXT column. A nil value is
// stored as SQL NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	return string(b), nil
}

// unmarshalJSON deserializes a nullable TEXT column into out. Empty or NULL
// columns leave out untouched.
func unmarshalJSON(s sql.NullString, out any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), out); err != nil {
		return fmt.Errorf("unmarshal column: %w", err)
	}
	return nil
}
