package mysql

import "fmt"

const selectColumns = "id, workspace_id, type, payload, status, attempts, next_attempt_at, " +
	"idempotency_key, client_trace_id, last_error, conflict, created_at, updated_at"

type queries struct {
	insert        string
	selectOne     string
	selectDue     string
	update        string
	exists        string
	recover       string
	countPending  string
	cleanupStatus string
}

func newQueries(table string) queries {
	return queries{
		insert: fmt.Sprintf(
			"INSERT IGNORE INTO %s (id, workspace_id, type, payload, status, attempts, next_attempt_at, "+
				"idempotency_key, client_trace_id, last_error, conflict, created_at, updated_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			table,
		),
		selectOne: fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns, table),
		selectDue: fmt.Sprintf(
			"SELECT %s FROM %s WHERE workspace_id = ? AND status = ? "+
				"AND (next_attempt_at IS NULL OR next_attempt_at <= ?) "+
				"ORDER BY created_at ASC, id ASC LIMIT ?",
			selectColumns,
			table,
		),
		update: fmt.Sprintf(
			"UPDATE %s SET status = ?, attempts = ?, next_attempt_at = ?, last_error = ?, conflict = ?, updated_at = ? "+
				"WHERE id = ?",
			table,
		),
		exists:       fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", table),
		recover:      fmt.Sprintf("UPDATE %s SET status = ?, updated_at = ? WHERE workspace_id = ? AND status = ? AND updated_at <= ?", table),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE workspace_id = ? AND status = ?", table),
		// #nosec G201 -- table name is sanitized.
		cleanupStatus: fmt.Sprintf("DELETE FROM %s WHERE status = ? AND updated_at <= ? ORDER BY updated_at LIMIT ?", table),
	}
}
