package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_commands (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL CHECK(status IN ('PENDING','IN_FLIGHT','SUCCEEDED','FAILED','CONFLICT')),
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	next_attempt_at INTEGER,
	updated_at INTEGER NOT NULL,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_commands(workspace_id, status, created_at, id);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// EnsureSchema applies pragmas and creates the outbox table when missing. It is idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("outbox sqlite: %s failed: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("outbox sqlite: apply schema failed: %w", err)
	}

	return nil
}
