// Package sqlite provides an embedded approval ledger backed by modernc.org/sqlite,
// for single-node deployments and tests that should not need a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS approval_requests (
    id             TEXT PRIMARY KEY,
    user_id        TEXT    NOT NULL,
    trainer_id     TEXT    NOT NULL,
    category       TEXT    NOT NULL,
    action_type    TEXT    NOT NULL,
    severity       TEXT    NOT NULL,
    description    TEXT    NOT NULL DEFAULT '',
    reason         TEXT    NOT NULL DEFAULT '',
    recommendation TEXT    NOT NULL DEFAULT '{}',
    user_context   TEXT    NOT NULL DEFAULT '{}',
    status         TEXT    NOT NULL DEFAULT 'pending'
                   CHECK (status IN ('pending', 'approved', 'rejected', 'expired')),
    notes          TEXT    NOT NULL DEFAULT '',
    modifications  TEXT,
    resolved_by    TEXT    NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    expires_at     INTEGER NOT NULL,
    decided_at     INTEGER,
    CHECK (expires_at > created_at)
);
CREATE INDEX IF NOT EXISTS idx_approval_requests_trainer ON approval_requests (trainer_id, status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_approval_requests_due ON approval_requests (status, expires_at);
`

// Open opens (creating if needed) the database at dsn and applies the schema.
// dsn is a file path or ":memory:".
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
