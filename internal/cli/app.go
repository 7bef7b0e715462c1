package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/config"
	"github.com/velmie/outbox-sync/httptransport"
	"github.com/velmie/outbox-sync/memory"
	"github.com/velmie/outbox-sync/mysql"
	"github.com/velmie/outbox-sync/redislock"
	"github.com/velmie/outbox-sync/sqlite"
)

// ErrRemoteURLRequired is returned by commands that deliver commands without OUTBOX_REMOTE_URL.
var ErrRemoteURLRequired = errors.New("OUTBOX_REMOTE_URL is required")

// app holds the components wired from the configuration.
type app struct {
	cfg    config.Config
	logger outbox.Logger
	store  outbox.Store
	mysql  *sql.DB
	locker outbox.Locker

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger outbox.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if err := a.openLocker(); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Driver {
	case config.DriverMemory:
		a.store = memory.NewStore(outbox.SystemClock{})

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, a.cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)

	case config.DriverMySQL:
		db, err := sql.Open("mysql", a.cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		a.mysql = db
		a.closers = append(a.closers, db.Close)

		schema, err := mysql.Schema(a.cfg.MySQLTable)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create mysql schema: %w", err)
		}
		store, err := mysql.NewStore(db, mysql.WithTable(a.cfg.MySQLTable))
		if err != nil {
			return err
		}
		a.store = store

	default:
		return fmt.Errorf("%w: %q", config.ErrUnknownDriver, a.cfg.Driver)
	}

	return nil
}

// openLocker prefers Redis, then MySQL advisory locks, then a process-local lock.
func (a *app) openLocker() error {
	switch {
	case a.cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		locker, err := redislock.NewLocker(client, redislock.WithTTL(a.cfg.LockTTL))
		if err != nil {
			return err
		}
		a.locker = locker

	case a.mysql != nil:
		locker, err := mysql.NewLocker(a.mysql)
		if err != nil {
			return err
		}
		a.locker = locker

	default:
		a.locker = outbox.NewMemoryLocker()
	}

	return nil
}

func (a *app) newEngine() (*outbox.Engine, error) {
	if a.cfg.RemoteURL == "" {
		return nil, ErrRemoteURLRequired
	}

	opts := []httptransport.Option{httptransport.WithTimeout(a.cfg.RemoteTimeout)}
	if a.cfg.RemoteToken != "" {
		opts = append(opts, httptransport.WithHeader("Authorization", "Bearer "+a.cfg.RemoteToken))
	}
	transport, err := httptransport.New(a.cfg.RemoteURL, opts...)
	if err != nil {
		return nil, err
	}

	return outbox.NewEngine(a.store, transport,
		outbox.WithBatchSize(a.cfg.BatchSize),
		outbox.WithExponentialBackoff(a.cfg.BaseDelay, a.cfg.MaxDelay),
		outbox.WithRetryPolicy(outbox.MaxAttempts(a.cfg.MaxAttempts)),
		outbox.WithLocker(a.locker),
		outbox.WithRecoveryGrace(a.cfg.RemoteTimeout+a.cfg.LockTTL),
		outbox.WithLogger(a.logger),
		outbox.WithFailureHandler(a.escalate),
	), nil
}

// escalate reports commands that need an operator.
func (a *app) escalate(_ context.Context, cmd outbox.Command, result outbox.Result) {
	a.logger.Error(
		"outbox command needs attention",
		"workspace", cmd.WorkspaceID,
		"command", cmd.ID,
		"type", cmd.Type,
		"status", string(cmd.Status),
		"result", result.Kind.String(),
		"last_error", cmd.LastError,
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil

	return errors.Join(errs...)
}
