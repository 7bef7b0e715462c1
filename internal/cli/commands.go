package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	outbox "github.com/velmie/outbox-sync"
	"github.com/velmie/outbox-sync/config"
	"github.com/velmie/outbox-sync/internal/api"
)

func (o *RootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	return newApp(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), o.Verbose))
}

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	ID             string
	Workspace      string
	Type           string
	Payload        string
	TraceID        string
	IdempotencyKey string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Record a command in the local outbox",
		Long: `Record a command in the local outbox and print it. Repeating the call with the same --id keeps
the first record and prints it.

Examples:
  outbox-sync enqueue --workspace store-1 --type sale.finalize --payload '{"saleId":"s-1"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnqueue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "command id (generated when empty)")
	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id (required)")
	_ = cmd.MarkFlagRequired("workspace")
	cmd.Flags().StringVar(&opts.Type, "type", "", "command type (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "JSON payload")
	cmd.Flags().StringVar(&opts.TraceID, "trace", "", "client trace id")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "idempotency key (defaults to the command id)")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command) error {
	if !json.Valid([]byte(opts.Payload)) {
		return outbox.ErrInvalidPayload
	}

	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cmdOpts := []outbox.CommandOption{outbox.WithCommandID(opts.ID)}
	if opts.TraceID != "" {
		cmdOpts = append(cmdOpts, outbox.WithClientTraceID(opts.TraceID))
	}
	if opts.IdempotencyKey != "" {
		cmdOpts = append(cmdOpts, outbox.WithIdempotencyKey(opts.IdempotencyKey))
	}

	command, err := outbox.NewCommandBuilder(nil, nil).Build(opts.Workspace, opts.Type, json.RawMessage(opts.Payload), cmdOpts...)
	if err != nil {
		return err
	}
	if err := a.store.Enqueue(cmd.Context(), command); err != nil {
		return err
	}
	stored, err := a.store.Get(cmd.Context(), command.ID)
	if err != nil {
		return err
	}

	return printCommand(cmd.OutOrStdout(), stored)
}

// FlushOptions holds flags for the flush command.
type FlushOptions struct {
	*RootOptions
	Workspace string
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver the due commands of a workspace once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFlush(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workspace, "workspace", "", "workspace id (required)")
	_ = cmd.MarkFlagRequired("workspace")

	return cmd
}

func runFlush(opts *FlushOptions, cmd *cobra.Command) error {
	a, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	stats, err := engine.Flush(cmd.Context(), opts.Workspace)
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), api.StatsResp{
		Workspace: opts.Workspace,
		Processed: stats.Processed,
		Succeeded: stats.Succeeded,
		Retried:   stats.Retried,
		Conflicts: stats.Conflicts,
		Failed:    stats.Failed,
		Contended: stats.Contended,
		Offline:   stats.Offline,
	})
}

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	ID string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print a command with its delivery status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			command, err := a.store.Get(cmd.Context(), opts.ID)
			if err != nil {
				return fmt.Errorf("get %s: %w", opts.ID, err)
			}

			return printCommand(cmd.OutOrStdout(), command)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "command id (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func printCommand(w io.Writer, cmd outbox.Command) error {
	data, err := outbox.SerializeCommand(cmd)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))

	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)

	return enc.Encode(v)
}
