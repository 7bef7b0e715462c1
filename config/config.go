// Package config loads the outbox-sync host configuration from OUTBOX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "outbox"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var (
	ErrUnknownDriver         = errors.New("outbox config: unknown driver")
	ErrSQLitePathRequired    = errors.New("outbox config: OUTBOX_SQLITE_PATH is required for the sqlite driver")
	ErrMySQLDSNRequired      = errors.New("outbox config: OUTBOX_MYSQL_DSN is required for the mysql driver")
	ErrInvalidBatchSize      = errors.New("outbox config: batch size must be positive")
	ErrInvalidDelay          = errors.New("outbox config: delays must be positive and base must not exceed max")
	ErrInvalidMaxAttempts    = errors.New("outbox config: max attempts must not be negative")
	ErrInvalidLockTTL        = errors.New("outbox config: lock ttl must be positive")
	ErrInvalidRemoteTimeout  = errors.New("outbox config: remote timeout must be positive")
	ErrFlushSpecRequired     = errors.New("outbox config: flush spec is required")
	ErrInvalidCleanupSetting = errors.New("outbox config: cleanup retention and interval must be positive")
)

// Config holds the host settings.
type Config struct {
	Driver     string `envconfig:"DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"outbox.db"`
	MySQLDSN   string `envconfig:"MYSQL_DSN"`
	MySQLTable string `envconfig:"MYSQL_TABLE" default:"outbox_commands"`
	// RedisAddr enables the Redis workspace lock when set. Otherwise the lock is process-local, or
	// GET_LOCK based with the mysql driver.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	RemoteURL     string        `envconfig:"REMOTE_URL"`
	RemoteToken   string        `envconfig:"REMOTE_TOKEN"`
	RemoteTimeout time.Duration `envconfig:"REMOTE_TIMEOUT" default:"30s"`

	BatchSize   int           `envconfig:"BATCH_SIZE" default:"20"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"5m"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"0"`

	FlushSpec  string   `envconfig:"FLUSH_SPEC" default:"@every 30s"`
	Workspaces []string `envconfig:"WORKSPACES"`
	HTTPAddr   string   `envconfig:"HTTP_ADDR" default:":8080"`

	CleanupRetention     time.Duration `envconfig:"CLEANUP_RETENTION" default:"168h"`
	CleanupEvery         time.Duration `envconfig:"CLEANUP_EVERY" default:"1h"`
	CleanupIncludeFailed bool          `envconfig:"CLEANUP_INCLUDE_FAILED" default:"false"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("outbox config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.MySQLDSN = strings.TrimSpace(c.MySQLDSN)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RemoteURL = strings.TrimSpace(c.RemoteURL)

	workspaces := c.Workspaces[:0]
	for _, ws := range c.Workspaces {
		if ws = strings.TrimSpace(ws); ws != "" {
			workspaces = append(workspaces, ws)
		}
	}
	c.Workspaces = workspaces
}

// Validate checks driver settings and numeric bounds.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return ErrSQLitePathRequired
		}
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return ErrMySQLDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}

	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.BaseDelay <= 0 || c.MaxDelay <= 0 || c.BaseDelay > c.MaxDelay {
		return ErrInvalidDelay
	}
	if c.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	if c.LockTTL <= 0 {
		return ErrInvalidLockTTL
	}
	if c.RemoteTimeout <= 0 {
		return ErrInvalidRemoteTimeout
	}
	if strings.TrimSpace(c.FlushSpec) == "" {
		return ErrFlushSpecRequired
	}
	if c.CleanupRetention <= 0 || c.CleanupEvery <= 0 {
		return ErrInvalidCleanupSetting
	}

	return nil
}
