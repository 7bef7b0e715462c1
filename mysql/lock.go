package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	outbox "github.com/velmie/outbox-sync"
)

const defaultLockPrefix = "outbox:ws:"

// Locker implements outbox.Locker with MySQL advisory locks. GET_LOCK is owned by a session, so each
// held key pins its own connection until Release.
type Locker struct {
	db     *sql.DB
	prefix string

	mu    sync.Mutex
	conns map[string]*sql.Conn
}

var _ outbox.Locker = (*Locker)(nil)

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockPrefix sets the prefix prepended to every lock name.
func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// NewLocker creates a Locker on db.
func NewLocker(db *sql.DB, opts ...LockerOption) (*Locker, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	l := &Locker{db: db, prefix: defaultLockPrefix, conns: make(map[string]*sql.Conn)}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// TryAcquire implements outbox.Locker. It never waits for another session.
func (l *Locker) TryAcquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrLockKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.conns[key]; ok {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("outbox mysql: lock conn failed: %w", err)
	}
	locked, err := getLock(ctx, conn, lockName(l.prefix, key))
	if err != nil || !locked {
		return false, errors.Join(err, closeConn(conn))
	}
	l.conns[key] = conn

	return true, nil
}

// Release implements outbox.Locker. Releasing a key that is not held is a no-op.
func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	delete(l.conns, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}

	return errors.Join(releaseLock(ctx, conn, lockName(l.prefix, key)), closeConn(conn))
}

func getLock(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", name).Scan(&got); err != nil {
		return false, fmt.Errorf("outbox mysql: acquire lock %s failed: %w", name, err)
	}

	return got.Valid && got.Int64 == 1, nil
}

func releaseLock(ctx context.Context, conn *sql.Conn, name string) error {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", name).Scan(&released); err != nil {
		return fmt.Errorf("outbox mysql: release lock %s failed: %w", name, err)
	}

	return nil
}

func closeConn(conn *sql.Conn) error {
	if err := conn.Close(); err != nil {
		return fmt.Errorf("outbox mysql: close lock conn failed: %w", err)
	}

	return nil
}
