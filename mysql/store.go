package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	outbox "github.com/velmie/outbox-sync"
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store implements outbox.Store on a MySQL table.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var (
	_ outbox.Store             = (*Store)(nil)
	_ outbox.InFlightRecoverer = (*Store)(nil)
	_ outbox.PendingCounter    = (*Store)(nil)
)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue implements outbox.Store. An existing ID is ignored.
func (s *Store) Enqueue(ctx context.Context, cmd outbox.Command) error {
	return s.EnqueueWith(ctx, s.db, cmd)
}

// EnqueueWith inserts a command using the provided executor, so a command can be recorded in the
// same transaction as the local change it describes.
func (s *Store) EnqueueWith(ctx context.Context, exec Executor, cmd outbox.Command) error {
	if exec == nil {
		return ErrExecutorRequired
	}
	prepared, err := outbox.PrepareEnqueue(cmd, s.cfg.Clock.Now())
	if err != nil {
		return err
	}

	_, err = exec.ExecContext(
		ctx,
		s.queries.insert,
		prepared.ID,
		prepared.WorkspaceID,
		prepared.Type,
		nullableJSON(prepared.Payload),
		string(prepared.Status),
		prepared.Attempts,
		nullableTime(prepared.NextAttemptAt),
		prepared.IdempotencyKey,
		nullableString(prepared.ClientTraceID),
		nullableString(prepared.LastError),
		nil,
		prepared.CreatedAt.UTC(),
		prepared.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("outbox mysql: insert failed: %w", err)
	}

	return nil
}

// Get implements outbox.Store.
func (s *Store) Get(ctx context.Context, id string) (outbox.Command, error) {
	cmd, err := scanCommand(s.db.QueryRowContext(ctx, s.queries.selectOne, id))
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Command{}, outbox.ErrCommandNotFound
	}
	if err != nil {
		return outbox.Command{}, fmt.Errorf("outbox mysql: get failed: %w", err)
	}

	return cmd, nil
}

// Due implements outbox.Store.
func (s *Store) Due(ctx context.Context, workspaceID string, opts outbox.DueOptions) ([]outbox.Command, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	rows, err := s.db.QueryContext(ctx, s.queries.selectDue, workspaceID, string(outbox.StatusPending), opts.Now.UTC(), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("outbox mysql: select failed: %w", err)
	}
	defer rows.Close()

	cmds := make([]outbox.Command, 0, opts.Limit)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox mysql: scan failed: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox mysql: rows failed: %w", err)
	}

	return cmds, nil
}

// Update implements outbox.Store.
func (s *Store) Update(ctx context.Context, cmd outbox.Command) error {
	if !cmd.Status.Valid() {
		return outbox.ErrInvalidStatus
	}

	conflict, err := marshalConflict(cmd.Conflict)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		s.queries.update,
		string(cmd.Status),
		cmd.Attempts,
		nullableTime(cmd.NextAttemptAt),
		nullableString(cmd.LastError),
		conflict,
		cmd.UpdatedAt.UTC(),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("outbox mysql: update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox mysql: update rows failed: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when nothing changed, so absence needs its own check.
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.exists, cmd.ID).Scan(&count); err != nil {
		return fmt.Errorf("outbox mysql: exists check failed: %w", err)
	}
	if count == 0 {
		return outbox.ErrCommandNotFound
	}

	return nil
}

// RecoverInFlight implements outbox.InFlightRecoverer.
func (s *Store) RecoverInFlight(ctx context.Context, workspaceID string, claimedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.queries.recover,
		string(outbox.StatusPending),
		s.cfg.Clock.Now().UTC(),
		workspaceID,
		string(outbox.StatusInFlight),
		claimedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: recover in-flight failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: recover rows failed: %w", err)
	}

	return int(affected), nil
}

// PendingCount returns the number of pending commands of a workspace.
func (s *Store) PendingCount(ctx context.Context, workspaceID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending, workspaceID, string(outbox.StatusPending)).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox mysql: pending count failed: %w", err)
	}

	return count, nil
}

func scanCommand(row rowScanner) (outbox.Command, error) {
	var (
		cmd       outbox.Command
		payload   []byte
		status    string
		next      sql.NullTime
		traceID   sql.NullString
		lastError sql.NullString
		conflict  []byte
	)

	if err := row.Scan(
		&cmd.ID,
		&cmd.WorkspaceID,
		&cmd.Type,
		&payload,
		&status,
		&cmd.Attempts,
		&next,
		&cmd.IdempotencyKey,
		&traceID,
		&lastError,
		&conflict,
		&cmd.CreatedAt,
		&cmd.UpdatedAt,
	); err != nil {
		return outbox.Command{}, err
	}

	cmd.Status = outbox.Status(status)
	if !cmd.Status.Valid() {
		return outbox.Command{}, fmt.Errorf("%w: %q", outbox.ErrInvalidStatus, status)
	}
	if len(payload) > 0 {
		cmd.Payload = json.RawMessage(payload)
	}
	if next.Valid {
		at := next.Time.UTC()
		cmd.NextAttemptAt = &at
	}
	cmd.ClientTraceID = traceID.String
	cmd.LastError = lastError.String
	if len(conflict) > 0 {
		var info outbox.ConflictInfo
		if err := json.Unmarshal(conflict, &info); err != nil {
			return outbox.Command{}, fmt.Errorf("outbox mysql: decode conflict: %w", err)
		}
		cmd.Conflict = &info
	}
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	cmd.UpdatedAt = cmd.UpdatedAt.UTC()

	return cmd, nil
}

func marshalConflict(conflict *outbox.ConflictInfo) (any, error) {
	if conflict == nil {
		return nil, nil
	}
	data, err := json.Marshal(conflict)
	if err != nil {
		return nil, fmt.Errorf("outbox mysql: encode conflict: %w", err)
	}

	return data, nil
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}

	return []byte(data)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC()
}
