package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	outbox "github.com/velmie/outbox-sync"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "outbox:cleanup:"
)

// CleanupOptions defines which terminal commands to delete.
type CleanupOptions struct {
	// Before removes commands whose last transition is older than this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeFailed also removes FAILED and CONFLICT commands. They are kept by default because they
	// usually wait for an operator.
	IncludeFailed bool
}

// CleanupResult reports how many rows were removed per status.
type CleanupResult struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Conflict  int64 `json:"conflict"`
}

// Total returns the number of removed rows.
func (r CleanupResult) Total() int64 {
	return r.Succeeded + r.Failed + r.Conflict
}

// CleanupMaintainerConfig controls periodic cleanup.
type CleanupMaintainerConfig struct {
	// Table is the command table name. Use schema.table for non-default schema.
	Table string
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeFailed removes failed and conflicted rows in addition to succeeded rows.
	IncludeFailed bool
	// LockName is the advisory lock name. Defaults to outbox:cleanup:<table>.
	LockName string
	Clock    outbox.Clock
	Logger   outbox.Logger
}

// CleanupMaintainer periodically deletes old terminal commands. Concurrent maintainers coordinate
// through an advisory lock, so only one session deletes at a time.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// Cleanup removes terminal commands older than opts.Before.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	var res CleanupResult
	targets := []struct {
		status outbox.Status
		count  *int64
	}{
		{outbox.StatusSucceeded, &res.Succeeded},
		{outbox.StatusFailed, &res.Failed},
		{outbox.StatusConflict, &res.Conflict},
	}
	if !opts.IncludeFailed {
		targets = targets[:1]
	}

	remaining := limit
	for _, target := range targets {
		if remaining <= 0 {
			break
		}
		deleted, err := s.cleanupByStatus(ctx, target.status, opts.Before, remaining)
		if err != nil {
			return res, err
		}
		*target.count = deleted
		remaining -= int(deleted)
	}

	return res, nil
}

// NewCleanupMaintainer creates a new cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = outbox.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = outbox.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	store, err := NewStore(db, WithTable(cfg.Table), WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}
	cfg.Table = store.table
	if cfg.LockName == "" {
		cfg.LockName = lockName(defaultCleanupLockPrefix, cfg.Table)
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old terminal commands until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *CleanupMaintainer) runOnce(ctx context.Context) {
	res, err := m.Ensure(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.cfg.Logger.Warn("outbox cleanup failed", "err", err)
		}

		return
	}
	if res.Total() > 0 {
		m.cfg.Logger.Info(
			"outbox cleanup completed",
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"conflict", res.Conflict,
		)
	}
}

// Ensure executes a single cleanup pass. It returns a zero result when another session holds the
// cleanup lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("outbox mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := getLock(ctx, conn, m.cfg.LockName)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("outbox cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer func() {
		if err := releaseLock(context.WithoutCancel(ctx), conn, m.cfg.LockName); err != nil {
			m.cfg.Logger.Warn("outbox cleanup release lock failed", "err", err)
		}
	}()

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Cleanup(ctx, CleanupOptions{
		Before:        before,
		Limit:         m.cfg.Limit,
		IncludeFailed: m.cfg.IncludeFailed,
	})
}

func (s *Store) cleanupByStatus(ctx context.Context, status outbox.Status, before time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.queries.cleanupStatus, string(status), before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}
