package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/outbox-sync/internal/api"
	"github.com/velmie/outbox-sync/scheduler"
)

const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Addr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Flush tracked workspaces on a schedule and serve the control API",
		Long: `Track the workspaces listed in OUTBOX_WORKSPACES, flush them on OUTBOX_FLUSH_SPEC and serve
the control API until interrupted.

Endpoints:
  GET    /healthz
  GET    /workspaces
  POST   /workspaces/{id}/track
  DELETE /workspaces/{id}/track
  POST   /workspaces/{id}/flush
  POST   /workspaces/{id}/commands
  GET    /commands/{id}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP bind address (overrides OUTBOX_HTTP_ADDR)")

	return cmd
}

func runServe(opts *RunOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	for _, ws := range a.cfg.Workspaces {
		if err := engine.Track(ws); err != nil {
			return err
		}
	}

	sched, err := scheduler.New(engine, scheduler.WithSpec(a.cfg.FlushSpec), scheduler.WithLogger(a.logger))
	if err != nil {
		return err
	}

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.HTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(engine, a.store, nil, a.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("outbox api listening", "addr", addr, "workspaces", len(a.cfg.Workspaces))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	<-schedDone
	a.logger.Info("outbox-sync stopped")

	return runErr
}
