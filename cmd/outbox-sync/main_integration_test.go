//go:build integration

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/cmd/internal/testutil"
	"github.com/velmie/outbox-sync/mysql"
)

func TestCleanupOnceContainer(t *testing.T) {
	ctx := context.Background()
	env := testutil.StartMySQL(t, ctx)

	schema, err := mysql.Schema("outbox_commands")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := env.DB.ExecContext(ctx, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	store, err := mysql.NewStore(env.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour).UTC()
	for _, id := range []string{"a", "b", "c"} {
		err := store.Enqueue(ctx, outbox.Command{
			ID:          id,
			WorkspaceID: "ws_1",
			Type:        "TEST",
			Payload:     json.RawMessage(`{"n":1}`),
			CreatedAt:   old,
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	setStatus(t, ctx, env.DB, "a", outbox.StatusSucceeded, old)
	setStatus(t, ctx, env.DB, "b", outbox.StatusFailed, old)

	bin := testutil.BuildBinary(t, ".")
	code, logs := testutil.RunCLI(t, ctx, env.Network.Name, bin, map[string]string{
		"OUTBOX_DRIVER":                 "mysql",
		"OUTBOX_MYSQL_DSN":              env.DSN,
		"OUTBOX_CLEANUP_RETENTION":      "24h",
		"OUTBOX_CLEANUP_INCLUDE_FAILED": "true",
	}, "cleanup", "--once")
	if code != 0 {
		t.Fatalf("cleanup exit code %d logs: %s", code, logs)
	}

	var remaining int
	if err := env.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox_commands").Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining rows = %d, want 1", remaining)
	}
	if _, err := store.Get(ctx, "c"); err != nil {
		t.Fatalf("pending command removed: %v", err)
	}
}

func setStatus(t *testing.T, ctx context.Context, db *sql.DB, id string, status outbox.Status, at time.Time) {
	t.Helper()

	_, err := db.ExecContext(ctx, "UPDATE outbox_commands SET status = ?, updated_at = ? WHERE id = ?", string(status), at, id)
	if err != nil {
		t.Fatalf("set status %s: %v", id, err)
	}
}
