// Package cli implements the outbox-sync command line.
package cli

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/zlog"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the outbox-sync root command. Store, lock and remote settings come from
// OUTBOX_* environment variables.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "outbox-sync",
		Short: "Deliver locally recorded commands to the remote system of record",
		Long: `outbox-sync records commands in a local outbox and delivers them to a remote API,
one workspace at a time, in creation order, with bounded retries.

Configuration is read from OUTBOX_* environment variables (OUTBOX_DRIVER, OUTBOX_SQLITE_PATH,
OUTBOX_MYSQL_DSN, OUTBOX_REDIS_ADDR, OUTBOX_REMOTE_URL, ...).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))

	return cmd
}

func newLogger(w io.Writer, verbose bool) outbox.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	return zlog.New(log)
}
