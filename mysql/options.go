package mysql

import (
	outbox "github.com/velmie/outbox-sync"
)

const defaultTable = "outbox_commands"

// Config defines MySQL store behavior.
type Config struct {
	Table string
	Clock outbox.Clock
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Clock == nil {
		c.Clock = outbox.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTable sets the outbox table name. Use schema.table for a non-default schema.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithClock sets the time source used for enqueue defaults and recovery timestamps.
func WithClock(clock outbox.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
