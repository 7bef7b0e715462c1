package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/sqlite"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), path, sqlite.WithClock(outbox.FixedClock{At: epoch}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testCommand(id, workspaceID string, createdAt time.Time) outbox.Command {
	return outbox.Command{
		ID:            id,
		WorkspaceID:   workspaceID,
		Type:          "TEST",
		Payload:       json.RawMessage(`{"sku":"A-1","qty":2}`),
		CreatedAt:     createdAt,
		Status:        outbox.StatusPending,
		ClientTraceID: "trace-" + id,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), "")
	require.ErrorIs(t, err, sqlite.ErrPathRequired)

	_, err = sqlite.NewStore(nil)
	require.ErrorIs(t, err, sqlite.ErrDBRequired)
}

func TestStoreEnqueueAndGet(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))

	require.NoError(t, store.Enqueue(ctx, testCommand("cmd-1", "ws_1", epoch)))
	duplicate := testCommand("cmd-1", "ws_1", epoch.Add(time.Hour))
	duplicate.Type = "OTHER"
	require.NoError(t, store.Enqueue(ctx, duplicate))

	got, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	require.Equal(t, "TEST", got.Type)
	require.Equal(t, outbox.StatusPending, got.Status)
	require.Equal(t, "cmd-1", got.IdempotencyKey)
	require.Equal(t, "trace-cmd-1", got.ClientTraceID)
	require.JSONEq(t, `{"sku":"A-1","qty":2}`, string(got.Payload))
	require.True(t, got.CreatedAt.Equal(epoch))

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, outbox.ErrCommandNotFound)

	err = store.Enqueue(ctx, outbox.Command{ID: "bad", WorkspaceID: "ws_1"})
	require.ErrorIs(t, err, outbox.ErrCommandTypeRequired)
}

func TestStoreDueOrderingAndSchedule(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))

	require.NoError(t, store.Enqueue(ctx, testCommand("c", "ws_1", epoch.Add(2*time.Second))))
	require.NoError(t, store.Enqueue(ctx, testCommand("b", "ws_1", epoch.Add(time.Second))))
	require.NoError(t, store.Enqueue(ctx, testCommand("a", "ws_1", epoch.Add(time.Second))))
	require.NoError(t, store.Enqueue(ctx, testCommand("x", "ws_2", epoch)))

	later := epoch.Add(time.Minute)
	b, err := store.Get(ctx, "b")
	require.NoError(t, err)
	b.Attempts = 1
	b.NextAttemptAt = &later
	b.LastError = "timeout"
	require.NoError(t, store.Update(ctx, b))

	due, err := store.Due(ctx, "ws_1", outbox.DueOptions{Now: epoch.Add(10 * time.Second), Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, ids(due))

	due, err = store.Due(ctx, "ws_1", outbox.DueOptions{Now: later, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids(due))
	require.Equal(t, 1, due[1].Attempts)
	require.Equal(t, "timeout", due[1].LastError)
	require.True(t, due[1].NextAttemptAt.Equal(later))

	due, err = store.Due(ctx, "ws_1", outbox.DueOptions{Now: later, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(due))

	_, err = store.Due(ctx, "ws_1", outbox.DueOptions{Now: later})
	require.ErrorIs(t, err, outbox.ErrInvalidBatchSize)
}

func TestStoreUpdateKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, store.Enqueue(ctx, testCommand("cmd-1", "ws_1", epoch)))

	cmd, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	cmd.Type = "REWRITTEN"
	cmd.Status = outbox.StatusConflict
	cmd.Conflict = &outbox.ConflictInfo{Message: "Version mismatch", ServerState: json.RawMessage(`{"version":7}`)}
	cmd.UpdatedAt = epoch.Add(time.Second)
	require.NoError(t, store.Update(ctx, cmd))

	got, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	require.Equal(t, "TEST", got.Type)
	require.Equal(t, outbox.StatusConflict, got.Status)
	require.NotNil(t, got.Conflict)
	require.Equal(t, "Version mismatch", got.Conflict.Message)
	require.JSONEq(t, `{"version":7}`, string(got.Conflict.ServerState))
	require.True(t, got.UpdatedAt.Equal(epoch.Add(time.Second)))

	require.ErrorIs(t, store.Update(ctx, testCommand("missing", "ws_1", epoch)), outbox.ErrCommandNotFound)
	got.Status = "LOST"
	require.ErrorIs(t, store.Update(ctx, got), outbox.ErrInvalidStatus)
}

func TestStoreRecoverInFlight(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, store.Enqueue(ctx, testCommand("a", "ws_1", epoch)))
	require.NoError(t, store.Enqueue(ctx, testCommand("b", "ws_1", epoch.Add(time.Second))))

	a, err := store.Get(ctx, "a")
	require.NoError(t, err)
	a.Status = outbox.StatusInFlight
	require.NoError(t, store.Update(ctx, a))

	count, err := store.PendingCount(ctx, "ws_1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	recovered, err := store.RecoverInFlight(ctx, "ws_1", epoch.Add(-time.Second))
	require.NoError(t, err)
	require.Zero(t, recovered, "commands claimed after the cutoff stay in flight")

	recovered, err = store.RecoverInFlight(ctx, "ws_1", epoch)
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	count, err = store.PendingCount(ctx, "ws_1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, outbox.StatusPending, got.Status)
	require.Equal(t, 0, got.Attempts)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	first, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Enqueue(ctx, testCommand("cmd-1", "ws_1", epoch)))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	cmds, err := second.List(ctx, "ws_1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"cmd-1"}, ids(cmds))
}

func TestEngineFlushOverSQLite(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, store.Enqueue(ctx, testCommand("ok", "ws_1", epoch)))
	require.NoError(t, store.Enqueue(ctx, testCommand("retry", "ws_1", epoch.Add(time.Second))))
	require.NoError(t, store.Enqueue(ctx, testCommand("conflict", "ws_1", epoch.Add(2*time.Second))))

	transport := outbox.TransportFunc(func(_ context.Context, cmd outbox.Command) (outbox.Result, error) {
		switch cmd.ID {
		case "retry":
			return outbox.Retryable(errors.New("503")), nil
		case "conflict":
			return outbox.Conflict("Version mismatch", nil), nil
		default:
			return outbox.OK(), nil
		}
	})
	engine := outbox.NewEngine(store, transport, outbox.WithClock(outbox.FixedClock{At: epoch.Add(time.Hour)}))

	stats, err := engine.Flush(ctx, "ws_1")
	require.NoError(t, err)
	require.Equal(t, outbox.Stats{Processed: 3, Succeeded: 1, Retried: 1, Conflicts: 1}, stats)

	statuses := map[string]outbox.Status{}
	cmds, err := store.List(ctx, "ws_1", 10)
	require.NoError(t, err)
	for _, cmd := range cmds {
		statuses[cmd.ID] = cmd.Status
	}
	require.Equal(t, map[string]outbox.Status{
		"ok":       outbox.StatusSucceeded,
		"retry":    outbox.StatusPending,
		"conflict": outbox.StatusConflict,
	}, statuses)

	retry, err := store.Get(ctx, "retry")
	require.NoError(t, err)
	require.Equal(t, 1, retry.Attempts)
	require.True(t, retry.NextAttemptAt.After(epoch.Add(time.Hour)))
}

func ids(cmds []outbox.Command) []string {
	out := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, cmd.ID)
	}

	return out
}

func TestStoreKeepsPayloadBytes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))

	cmd := testCommand("cmd-1", "ws_1", epoch)
	cmd.Payload = json.RawMessage("{ \"note\": \"a<b & c\",\n  \"qty\": 2 }")
	require.NoError(t, store.Enqueue(ctx, cmd))

	got, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	require.Equal(t, string(cmd.Payload), string(got.Payload))

	got.Status = outbox.StatusSucceeded
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	require.Equal(t, string(cmd.Payload), string(got.Payload))
}
