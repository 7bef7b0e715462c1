package mysql

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) NOT NULL,
	workspace_id VARCHAR(128) NOT NULL,
	type VARCHAR(128) NOT NULL,
	payload JSON NULL,
	status VARCHAR(16) NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP(6) NULL,
	idempotency_key VARCHAR(128) NOT NULL,
	client_trace_id VARCHAR(128) NULL,
	last_error VARCHAR(1024) NULL,
	conflict JSON NULL,
	created_at TIMESTAMP(6) NOT NULL,
	updated_at TIMESTAMP(6) NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_due (workspace_id, status, created_at, id),
	INDEX idx_status_updated (status, updated_at)
);`

// Schema returns the DDL for a command table.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name), nil
}
