package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	outbox "github.com/velmie/outbox-sync"
)

// Store keeps commands in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	clock    outbox.Clock
	commands map[string]outbox.Command
}

var (
	_ outbox.Store             = (*Store)(nil)
	_ outbox.InFlightRecoverer = (*Store)(nil)
	_ outbox.PendingCounter    = (*Store)(nil)
)

// NewStore creates an empty store. A nil clock uses outbox.SystemClock.
func NewStore(clock outbox.Clock) *Store {
	if clock == nil {
		clock = outbox.SystemClock{}
	}

	return &Store{clock: clock, commands: make(map[string]outbox.Command)}
}

// Enqueue implements outbox.Store.
func (s *Store) Enqueue(_ context.Context, cmd outbox.Command) error {
	prepared, err := outbox.PrepareEnqueue(cmd, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commands[prepared.ID]; ok {
		return nil
	}
	s.commands[prepared.ID] = prepared

	return nil
}

// Get implements outbox.Store.
func (s *Store) Get(_ context.Context, id string) (outbox.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[id]
	if !ok {
		return outbox.Command{}, outbox.ErrCommandNotFound
	}

	return cmd.Clone(), nil
}

// Due implements outbox.Store.
func (s *Store) Due(_ context.Context, workspaceID string, opts outbox.DueOptions) ([]outbox.Command, error) {
	if opts.Limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	s.mu.Lock()
	due := make([]outbox.Command, 0, opts.Limit)
	for _, cmd := range s.commands {
		if cmd.WorkspaceID == workspaceID && cmd.Due(opts.Now) {
			due = append(due, cmd.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > opts.Limit {
		due = due[:opts.Limit]
	}

	return due, nil
}

// Update implements outbox.Store.
func (s *Store) Update(_ context.Context, cmd outbox.Command) error {
	if !cmd.Status.Valid() {
		return outbox.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.commands[cmd.ID]
	if !ok {
		return outbox.ErrCommandNotFound
	}

	current.Status = cmd.Status
	current.Attempts = cmd.Attempts
	current.LastError = cmd.LastError
	current.UpdatedAt = cmd.UpdatedAt
	updated := cmd.Clone()
	current.NextAttemptAt = updated.NextAttemptAt
	current.Conflict = updated.Conflict
	s.commands[cmd.ID] = current

	return nil
}

// RecoverInFlight implements outbox.InFlightRecoverer.
func (s *Store) RecoverInFlight(_ context.Context, workspaceID string, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var recovered int
	for id, cmd := range s.commands {
		if cmd.WorkspaceID != workspaceID || cmd.Status != outbox.StatusInFlight || cmd.UpdatedAt.After(claimedBefore) {
			continue
		}
		cmd.Status = outbox.StatusPending
		cmd.UpdatedAt = now
		s.commands[id] = cmd
		recovered++
	}

	return recovered, nil
}

// PendingCount implements outbox.PendingCounter.
func (s *Store) PendingCount(_ context.Context, workspaceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, cmd := range s.commands {
		if cmd.WorkspaceID == workspaceID && cmd.Status == outbox.StatusPending {
			count++
		}
	}

	return count, nil
}

// List returns every command of a workspace in creation order.
func (s *Store) List(workspaceID string) []outbox.Command {
	s.mu.Lock()
	out := make([]outbox.Command, 0)
	for _, cmd := range s.commands {
		if cmd.WorkspaceID == workspaceID {
			out = append(out, cmd.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}

		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}
