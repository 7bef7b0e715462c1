package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/mysql"
)

// ErrCleanupNeedsMySQL is returned when cleanup runs against a driver other than mysql.
var ErrCleanupNeedsMySQL = errors.New("cleanup requires OUTBOX_DRIVER=mysql")

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	*RootOptions
	Once  bool
	Limit int
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old terminal commands from the MySQL outbox",
		Long: `Delete SUCCEEDED commands older than OUTBOX_CLEANUP_RETENTION, and FAILED or CONFLICT
commands as well when OUTBOX_CLEANUP_INCLUDE_FAILED is set. Concurrent runs coordinate through a
MySQL advisory lock.

Examples:
  outbox-sync cleanup --once
  OUTBOX_CLEANUP_EVERY=30m outbox-sync cleanup`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanup(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single pass and exit")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max rows deleted per pass (0 uses the default)")

	return cmd
}

func runCleanup(opts *CleanupOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.mysql == nil {
		return ErrCleanupNeedsMySQL
	}

	maintainer, err := mysql.NewCleanupMaintainer(a.mysql, mysql.CleanupMaintainerConfig{
		Table:         a.cfg.MySQLTable,
		Retention:     a.cfg.CleanupRetention,
		CheckEvery:    a.cfg.CleanupEvery,
		Limit:         opts.Limit,
		IncludeFailed: a.cfg.CleanupIncludeFailed,
		Clock:         outbox.SystemClock{},
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	if opts.Once {
		res, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}

		return printJSON(cmd.OutOrStdout(), res)
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
