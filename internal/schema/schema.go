// Package schema owns the simulation database schema and its migrations.
package schema

import (
	"context"
	"fmt"

	"github.com/nvandessel/rumormill/internal/storage"
)

// Version is the current schema version.
const Version = 1

// schemaV1 is the initial schema. All statements are idempotent so a fresh
// apply and a re-apply take the same path.
const schemaV1 = `
-- Simulated feed content under escalation scrutiny
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    author TEXT NOT NULL,
    content TEXT NOT NULL,
    engagement INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_posts_engagement ON posts(engagement);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author);

-- Escalation reservations, one row per (target, round)
CREATE TABLE IF NOT EXISTS escalations (
    target_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    round INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'RESERVED',  -- 'RESERVED', 'COMMITTED'
    engagement_at_reservation INTEGER NOT NULL,
    outcome TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    committed_at TEXT,
    PRIMARY KEY (target_id, round)
);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// Apply initializes the schema through exec, creating tables on a fresh
// database and migrating an existing one. It goes through the Executor
// rather than a raw connection so local and remote deployments end up with
// the same schema by the same statements.
func Apply(ctx context.Context, exec storage.Executor) error {
	version, err := currentVersion(ctx, exec)
	if err != nil || version == 0 {
		// No schema recorded yet, create everything fresh.
		_, err := exec.Transaction(ctx, []storage.Statement{
			{Query: schemaV1},
			{Query: `INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, Params: []any{Version}},
		})
		if err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if version < Version {
		if err := migrate(ctx, exec, version); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// currentVersion returns the recorded schema version. It errors when the
// schema_version table does not exist yet.
func currentVersion(ctx context.Context, exec storage.Executor) (int, error) {
	row, err := exec.FetchOne(ctx, `SELECT MAX(version) FROM schema_version`)
	if err != nil {
		return 0, err
	}
	if row == nil || row[0] == nil {
		return 0, nil
	}
	v, ok := row[0].(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected schema version type %T", row[0])
	}
	return int(v), nil
}

// migrate applies migrations from fromVersion up to Version.
func migrate(ctx context.Context, exec storage.Executor, fromVersion int) error {
	// Only one version so far. When v2 lands, its statements go here.
	_ = fromVersion
	return nil
}

// Integrity runs SQLite's integrity and foreign key checks.
func Integrity(ctx context.Context, exec storage.Executor) error {
	rs, err := exec.FetchAll(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	for _, row := range rs.Rows {
		if len(row) > 0 && row[0] != "ok" {
			return fmt.Errorf("integrity_check failed: %v", row[0])
		}
	}

	fk, err := exec.FetchAll(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	if len(fk.Rows) > 0 {
		return fmt.Errorf("foreign_key_check failed: %d violations", len(fk.Rows))
	}
	return nil
}

// RelationshipHints maps each table to the relationship most often behind
// its constraint failures. The storage layer uses these to annotate
// integrity errors.
func RelationshipHints() map[string]string {
	return map[string]string{
		"posts":       "posts.id must be unique",
		"escalations": "escalations.target_id -> posts.id, unique (target_id, round)",
	}
}

// Reset drops all tables and recreates the schema. Only use for testing.
func Reset(ctx context.Context, exec storage.Executor) error {
	tables := []string{
		"escalations",
		"posts",
		"schema_version",
	}
	for _, table := range tables {
		if _, err := exec.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return Apply(ctx, exec)
}
