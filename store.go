package outbox

import (
	"context"
	"time"
)

// DueOptions controls how due commands are selected.
type DueOptions struct {
	// Now is the clock reading compared against NextAttemptAt.
	Now time.Time
	// Limit caps the number of commands returned.
	Limit int
}

// Store is the durable, workspace-partitioned record of commands.
//
// Implementations must select due commands as: workspace matches, status PENDING, NextAttemptAt
// unset or not after Now, ordered by CreatedAt ascending (ties by ID), at most Limit rows.
type Store interface {
	// Enqueue inserts the command as PENDING. Re-enqueuing an existing ID is a no-op.
	Enqueue(ctx context.Context, cmd Command) error
	// Get returns the command or ErrCommandNotFound.
	Get(ctx context.Context, id string) (Command, error)
	// Due returns the commands eligible for delivery in FIFO order.
	Due(ctx context.Context, workspaceID string, opts DueOptions) ([]Command, error)
	// Update atomically persists status, attempts, NextAttemptAt, LastError, Conflict, UpdatedAt.
	Update(ctx context.Context, cmd Command) error
}

// InFlightRecoverer resets commands left IN_FLIGHT by an interrupted flush back to PENDING. Only
// commands whose UpdatedAt is at or before claimedBefore are reset.
type InFlightRecoverer interface {
	RecoverInFlight(ctx context.Context, workspaceID string, claimedBefore time.Time) (int, error)
}

// PendingCounter provides the number of pending commands of a workspace.
type PendingCounter interface {
	PendingCount(ctx context.Context, workspaceID string) (int, error)
}

// PrepareEnqueue normalizes a command for insertion: status PENDING, no attempts, no schedule.
// Store implementations call it before persisting.
func PrepareEnqueue(cmd Command, now time.Time) (Command, error) {
	cmd = cmd.Clone()
	cmd.Status = StatusPending
	cmd.Attempts = 0
	cmd.NextAttemptAt = nil
	cmd.LastError = ""
	cmd.Conflict = nil
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = cmd.ID
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	if cmd.UpdatedAt.IsZero() {
		cmd.UpdatedAt = cmd.CreatedAt
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}

	return cmd, nil
}
