package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	outbox "github.com/velmie/outbox-sync"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Store persists commands in a single SQLite table.
type Store struct {
	db    *sql.DB
	clock outbox.Clock
}

var (
	_ outbox.Store             = (*Store)(nil)
	_ outbox.InFlightRecoverer = (*Store)(nil)
	_ outbox.PendingCounter    = (*Store)(nil)
)

// Option configures the store.
type Option func(*Store)

// WithClock sets the time source used for enqueue defaults and recovery timestamps.
func WithClock(clock outbox.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Open opens (or creates) the database at path and applies the schema. SQLite allows a single
// writer, so the pool is limited to one connection.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("outbox sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("outbox sqlite: ping failed: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return NewStore(db, opts...)
}

// NewStore wraps an already prepared database.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = outbox.SystemClock{}
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue implements outbox.Store. An existing ID is left untouched.
func (s *Store) Enqueue(ctx context.Context, cmd outbox.Command) error {
	prepared, err := outbox.PrepareEnqueue(cmd, s.clock.Now())
	if err != nil {
		return err
	}
	body, err := outbox.SerializeCommand(prepared)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO outbox_commands (id, workspace_id, type, status, attempts, created_at, next_attempt_at, updated_at, body)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		prepared.ID,
		prepared.WorkspaceID,
		prepared.Type,
		string(prepared.Status),
		prepared.Attempts,
		unixNano(prepared.CreatedAt),
		nullableUnixNano(prepared.NextAttemptAt),
		unixNano(prepared.UpdatedAt),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("outbox sqlite: insert failed: %w", err)
	}

	return nil
}

// Get implements outbox.Store.
func (s *Store) Get(ctx context.Context, id string) (outbox.Command, error) {
	return getCommand(ctx, s.db, id)
}

// Due implements outbox.Store.
func (s *Store) Due(ctx context.Context, workspaceID string, opts outbox.DueOptions) ([]outbox.Command, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT body FROM outbox_commands
WHERE workspace_id = ? AND status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
ORDER BY created_at ASC, id ASC
LIMIT ?`,
		workspaceID, string(outbox.StatusPending), unixNano(opts.Now), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("outbox sqlite: select due failed: %w", err)
	}

	return scanCommands(rows, opts.Limit)
}

// Update implements outbox.Store. Only the state fields of the stored command change.
func (s *Store) Update(ctx context.Context, cmd outbox.Command) error {
	if !cmd.Status.Valid() {
		return outbox.ErrInvalidStatus
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := getCommand(ctx, tx, cmd.ID)
		if err != nil {
			return err
		}
		next := cmd.Clone()
		current.Status = next.Status
		current.Attempts = next.Attempts
		current.NextAttemptAt = next.NextAttemptAt
		current.LastError = next.LastError
		current.Conflict = next.Conflict
		current.UpdatedAt = next.UpdatedAt

		return writeState(ctx, tx, current)
	})
}

// RecoverInFlight implements outbox.InFlightRecoverer.
func (s *Store) RecoverInFlight(ctx context.Context, workspaceID string, claimedBefore time.Time) (int, error) {
	var recovered int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT body FROM outbox_commands WHERE workspace_id = ? AND status = ? AND updated_at <= ?`,
			workspaceID, string(outbox.StatusInFlight), unixNano(claimedBefore))
		if err != nil {
			return fmt.Errorf("outbox sqlite: select in-flight failed: %w", err)
		}
		stuck, err := scanCommands(rows, 0)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		for _, cmd := range stuck {
			cmd.Status = outbox.StatusPending
			cmd.UpdatedAt = now
			if err := writeState(ctx, tx, cmd); err != nil {
				return err
			}
		}
		recovered = len(stuck)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return recovered, nil
}

// PendingCount implements outbox.PendingCounter.
func (s *Store) PendingCount(ctx context.Context, workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_commands WHERE workspace_id = ? AND status = ?`,
		workspaceID, string(outbox.StatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("outbox sqlite: pending count failed: %w", err)
	}

	return count, nil
}

// List returns up to limit commands of a workspace in creation order, regardless of status.
func (s *Store) List(ctx context.Context, workspaceID string, limit int) ([]outbox.Command, error) {
	if limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM outbox_commands WHERE workspace_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox sqlite: list failed: %w", err)
	}

	return scanCommands(rows, limit)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox sqlite: begin tx failed: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, rollback(tx))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox sqlite: commit failed: %w", err)
	}

	return nil
}

func rollback(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("outbox sqlite: rollback failed: %w", err)
	}

	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCommand(ctx context.Context, q queryer, id string) (outbox.Command, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM outbox_commands WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Command{}, outbox.ErrCommandNotFound
	}
	if err != nil {
		return outbox.Command{}, fmt.Errorf("outbox sqlite: get failed: %w", err)
	}

	return outbox.DeserializeCommand([]byte(body))
}

func writeState(ctx context.Context, tx *sql.Tx, cmd outbox.Command) error {
	body, err := outbox.SerializeCommand(cmd)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE outbox_commands
SET status = ?, attempts = ?, next_attempt_at = ?, updated_at = ?, body = ?
WHERE id = ?`,
		string(cmd.Status),
		cmd.Attempts,
		nullableUnixNano(cmd.NextAttemptAt),
		unixNano(cmd.UpdatedAt),
		string(body),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("outbox sqlite: update %s failed: %w", cmd.ID, err)
	}

	return nil
}

func scanCommands(rows *sql.Rows, capacity int) ([]outbox.Command, error) {
	defer rows.Close()

	cmds := make([]outbox.Command, 0, capacity)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("outbox sqlite: scan failed: %w", err)
		}
		cmd, err := outbox.DeserializeCommand([]byte(body))
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox sqlite: rows failed: %w", err)
	}

	return cmds, nil
}

func unixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nullableUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: unixNano(*t), Valid: true}
}
