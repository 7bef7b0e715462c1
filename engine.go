package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Stats summarizes one flush.
type Stats struct {
	// Processed counts commands handed to the transport.
	Processed int
	Succeeded int
	Retried   int
	Conflicts int
	Failed    int
	// Contended is set when another flush already owned the workspace lock.
	Contended bool
	// Offline is set when the flush was skipped because the network monitor reported offline.
	Offline bool
}

// Engine delivers due commands of a workspace through a Transport and folds outcomes back into the
// Store. It has no background loop; hosts call Flush or FlushTracked.
type Engine struct {
	store     Store
	transport Transport
	cfg       EngineConfig

	mu      sync.RWMutex
	tracked map[string]struct{}
}

// NewEngine constructs an Engine with defaults and optional settings.
func NewEngine(store Store, transport Transport, opts ...EngineOption) *Engine {
	if store == nil {
		panic("outbox: nil Store")
	}
	if transport == nil {
		panic("outbox: nil Transport")
	}

	var cfg EngineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Engine{
		store:     store,
		transport: transport,
		cfg:       cfg,
		tracked:   make(map[string]struct{}),
	}
}

// Track registers interest in a workspace. Background drivers only flush tracked workspaces.
func (e *Engine) Track(workspaceID string) error {
	if workspaceID == "" {
		return ErrWorkspaceRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked[workspaceID] = struct{}{}

	return nil
}

// Untrack removes a workspace from the tracked set.
func (e *Engine) Untrack(workspaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracked, workspaceID)
}

// IsTracked reports whether the workspace is tracked.
func (e *Engine) IsTracked(workspaceID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tracked[workspaceID]

	return ok
}

// Tracked returns the tracked workspace ids in sorted order.
func (e *Engine) Tracked() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// FlushTracked flushes every tracked workspace one after another.
func (e *Engine) FlushTracked(ctx context.Context) (map[string]Stats, error) {
	ids := e.Tracked()
	out := make(map[string]Stats, len(ids))

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}
		stats, err := e.Flush(ctx, id)
		out[id] = stats
		if err != nil {
			errs = append(errs, fmt.Errorf("outbox: flush workspace %s: %w", id, err))
		}
	}

	return out, errors.Join(errs...)
}

// Flush makes one bounded attempt to deliver the due commands of a workspace.
//
// Business outcomes never produce an error: they are reported through Stats and the persisted
// command status. Errors are returned for an empty workspace id and for lock or store failures,
// including ErrLeaseLost when an expiring lock could not be renewed.
// When the lock is held elsewhere, Flush returns zero Stats with Contended set.
func (e *Engine) Flush(ctx context.Context, workspaceID string) (Stats, error) {
	if workspaceID == "" {
		return Stats{}, ErrWorkspaceRequired
	}
	if e.cfg.Network != nil && !e.cfg.Network.Online() {
		e.cfg.Logger.Debug("outbox flush skipped while offline", "workspace", workspaceID)

		return Stats{Offline: true}, nil
	}

	acquired, err := e.cfg.Locker.TryAcquire(ctx, workspaceID)
	if err != nil {
		return Stats{}, fmt.Errorf("outbox: acquire lock failed: %w", err)
	}
	if !acquired {
		e.cfg.Logger.Debug("outbox flush lock held by another flush", "workspace", workspaceID)
		e.cfg.Metrics.AddContended(workspaceID)

		return Stats{Contended: true}, nil
	}

	start := time.Now()
	defer func() {
		if err := e.cfg.Locker.Release(context.WithoutCancel(ctx), workspaceID); err != nil {
			e.cfg.Logger.Warn("outbox release lock failed", "workspace", workspaceID, "err", err)
		}
		e.cfg.Metrics.ObserveFlushDuration(workspaceID, time.Since(start))
	}()

	leaseCtx, stopLease := e.holdLease(ctx, workspaceID)
	defer stopLease()

	stats, err := e.flushLocked(leaseCtx, workspaceID)
	e.recordStats(workspaceID, stats)
	if err != nil {
		e.cfg.Logger.Error("outbox flush aborted", "workspace", workspaceID, "processed", stats.Processed, "err", err)

		return stats, err
	}
	if stats.Processed > 0 {
		e.cfg.Logger.Info(
			"outbox flush completed",
			"workspace", workspaceID,
			"processed", stats.Processed,
			"succeeded", stats.Succeeded,
			"retried", stats.Retried,
			"conflicts", stats.Conflicts,
			"failed", stats.Failed,
		)
	}

	return stats, nil
}

// holdLease keeps an expiring lock alive until the returned stop function is called. The returned
// context is canceled with ErrLeaseLost when a renewal fails.
func (e *Engine) holdLease(ctx context.Context, workspaceID string) (context.Context, func()) {
	lease, ok := e.cfg.Locker.(LeaseLocker)
	if !ok {
		return ctx, func() {}
	}
	interval := e.cfg.LeaseRenewal
	if interval <= 0 {
		interval = lease.LeaseTTL() / 3
	}
	if interval <= 0 {
		return ctx, func() {}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
			}
			if err := lease.Extend(leaseCtx, workspaceID); err != nil {
				if leaseCtx.Err() != nil {
					return
				}
				e.cfg.Logger.Warn("outbox lock lease lost", "workspace", workspaceID, "err", err)
				cancel(fmt.Errorf("%w: %w", ErrLeaseLost, err))

				return
			}
		}
	}()

	return leaseCtx, func() {
		cancel(nil)
		<-done
	}
}

func (e *Engine) flushLocked(ctx context.Context, workspaceID string) (Stats, error) {
	var stats Stats

	if err := e.recoverInFlight(ctx, workspaceID); err != nil {
		return stats, err
	}

	due, err := e.store.Due(ctx, workspaceID, DueOptions{Now: e.cfg.Clock.Now(), Limit: e.cfg.BatchSize})
	if err != nil {
		return stats, fmt.Errorf("outbox: select due commands failed: %w", err)
	}
	if len(due) > 0 {
		if batcher, ok := e.transport.(BatchTransport); ok && e.cfg.BatchExecution {
			err = e.deliverBatch(ctx, batcher, due, &stats)
		} else {
			err = e.deliverSequential(ctx, due, &stats)
		}
	}
	e.recordPending(ctx, workspaceID)

	return stats, err
}

func (e *Engine) deliverSequential(ctx context.Context, due []Command, stats *Stats) error {
	for i := range due {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		cmd, err := e.claim(ctx, due[i])
		if err != nil {
			return err
		}
		stats.Processed++

		result, unexpected := e.execute(ctx, cmd)
		if err := e.apply(ctx, cmd, result, unexpected, stats); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) deliverBatch(ctx context.Context, batcher BatchTransport, due []Command, stats *Stats) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	claimed := make([]Command, 0, len(due))
	for i := range due {
		cmd, err := e.claim(ctx, due[i])
		if err != nil {
			e.unclaim(ctx, claimed)

			return err
		}
		claimed = append(claimed, cmd)
	}
	stats.Processed += len(claimed)

	results, unexpected := e.executeBatch(ctx, batcher, claimed)
	for i := range claimed {
		if err := e.apply(ctx, claimed[i], results[i], unexpected, stats); err != nil {
			e.unclaim(ctx, claimed[i+1:])

			return err
		}
	}

	return nil
}

func (e *Engine) claim(ctx context.Context, cmd Command) (Command, error) {
	cmd.Status = StatusInFlight
	cmd.UpdatedAt = e.cfg.Clock.Now()
	if err := e.store.Update(ctx, cmd); err != nil {
		return Command{}, fmt.Errorf("outbox: claim command %s failed: %w", cmd.ID, err)
	}
	e.cfg.Logger.Debug("outbox command claimed", "workspace", cmd.WorkspaceID, "command", cmd.ID, "type", cmd.Type)

	return cmd, nil
}

func (e *Engine) unclaim(ctx context.Context, claimed []Command) {
	persistCtx := context.WithoutCancel(ctx)
	for _, cmd := range claimed {
		cmd.Status = StatusPending
		cmd.UpdatedAt = e.cfg.Clock.Now()
		if err := e.store.Update(persistCtx, cmd); err != nil {
			e.cfg.Logger.Warn("outbox unclaim command failed", "workspace", cmd.WorkspaceID, "command", cmd.ID, "err", err)
		}
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.TransportTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.TransportTimeout)
	}

	return ctx, func() {}
}

func (e *Engine) execute(ctx context.Context, cmd Command) (result Result, unexpected error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			unexpected = fmt.Errorf("%w: %v", ErrTransportPanic, rec)
			result = Retryable(unexpected)
		}
	}()

	res, err := e.transport.Execute(callCtx, cmd.Clone())
	if err != nil {
		return Retryable(err), err
	}

	return res, nil
}

func (e *Engine) executeBatch(ctx context.Context, batcher BatchTransport, cmds []Command) (results []Result, unexpected error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			unexpected = fmt.Errorf("%w: %v", ErrTransportPanic, rec)
			results = repeatResult(Retryable(unexpected), len(cmds))
		}
	}()

	copies := make([]Command, len(cmds))
	for i := range cmds {
		copies[i] = cmds[i].Clone()
	}

	res, err := batcher.ExecuteBatch(callCtx, copies)
	switch {
	case err != nil:
		return repeatResult(Retryable(err), len(cmds)), err
	case len(res) == len(cmds):
		return res, nil
	case len(res) == 1:
		return repeatResult(res[0], len(cmds)), nil
	default:
		mismatch := fmt.Errorf("%w: got %d for %d commands", ErrBatchResultMismatch, len(res), len(cmds))

		return repeatResult(Retryable(mismatch), len(cmds)), mismatch
	}
}

func repeatResult(result Result, n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = result
	}

	return out
}

// apply persists the outcome of one transport call. Writes ignore caller cancellation so that a
// claimed command is always resolved before the lock is released.
func (e *Engine) apply(ctx context.Context, cmd Command, result Result, unexpected error, stats *Stats) error {
	persistCtx := context.WithoutCancel(ctx)
	now := e.cfg.Clock.Now()
	cmd.UpdatedAt = now

	switch result.Kind {
	case ResultOK:
		cmd.Status = StatusSucceeded
		cmd.NextAttemptAt = nil
		cmd.LastError = ""
		if err := e.persist(persistCtx, cmd); err != nil {
			return err
		}
		stats.Succeeded++
		e.cfg.Logger.Debug("outbox command succeeded", "workspace", cmd.WorkspaceID, "command", cmd.ID)

	case ResultFatal:
		cmd.Status = StatusFailed
		cmd.NextAttemptAt = nil
		cmd.LastError = result.errorText()
		if err := e.persist(persistCtx, cmd); err != nil {
			return err
		}
		stats.Failed++
		e.cfg.Logger.Warn("outbox command failed", "workspace", cmd.WorkspaceID, "command", cmd.ID, "err", result.Err)
		e.notifyFailure(persistCtx, cmd, result)

	case ResultConflict:
		cmd.Status = StatusConflict
		cmd.NextAttemptAt = nil
		cmd.Conflict = &ConflictInfo{Message: result.Message, ServerState: result.ServerState}
		if err := e.persist(persistCtx, cmd); err != nil {
			return err
		}
		stats.Conflicts++
		e.cfg.Logger.Warn("outbox command conflict", "workspace", cmd.WorkspaceID, "command", cmd.ID, "message", result.Message)
		e.notifyFailure(persistCtx, cmd, result)

	default:
		if result.Kind != ResultRetryable && unexpected == nil {
			unexpected = fmt.Errorf("outbox: unknown result kind %s", result.Kind)
			result = Retryable(unexpected)
		}

		return e.reschedule(ctx, cmd, result, unexpected, now, stats)
	}

	return nil
}

func (e *Engine) reschedule(ctx context.Context, cmd Command, result Result, unexpected error, now time.Time, stats *Stats) error {
	persistCtx := context.WithoutCancel(ctx)
	if unexpected != nil {
		e.cfg.Metrics.AddUnexpected(cmd.WorkspaceID, 1)
		e.cfg.Logger.Error(
			"outbox transport unexpected failure",
			"workspace", cmd.WorkspaceID,
			"command", cmd.ID,
			"unexpected", true,
			"err", unexpected,
		)
	}

	cmd.Attempts++
	cmd.LastError = result.errorText()

	if e.cfg.RetryPolicy(persistCtx, cmd, cmd.Attempts) == RetryAbandon {
		abandoned := Fatal(errors.Join(ErrRetriesExhausted, result.Err))
		cmd.Status = StatusFailed
		cmd.NextAttemptAt = nil
		cmd.LastError = abandoned.errorText()
		if err := e.persist(persistCtx, cmd); err != nil {
			return err
		}
		stats.Failed++
		e.cfg.Logger.Warn("outbox command abandoned", "workspace", cmd.WorkspaceID, "command", cmd.ID, "attempts", cmd.Attempts)
		e.notifyFailure(persistCtx, cmd, abandoned)

		return nil
	}

	next := nextAttemptAt(now, e.cfg.Backoff.Delay(cmd.Attempts))
	cmd.Status = StatusPending
	cmd.NextAttemptAt = &next
	if err := e.persist(persistCtx, cmd); err != nil {
		return err
	}
	stats.Retried++
	if unexpected == nil {
		e.cfg.Logger.Info(
			"outbox command rescheduled",
			"workspace", cmd.WorkspaceID,
			"command", cmd.ID,
			"attempts", cmd.Attempts,
			"next_attempt_at", next,
			"err", result.Err,
		)
	}

	return nil
}

func (e *Engine) persist(ctx context.Context, cmd Command) error {
	if err := e.store.Update(ctx, cmd); err != nil {
		return fmt.Errorf("outbox: persist command %s as %s failed: %w", cmd.ID, cmd.Status, err)
	}

	return nil
}

func (e *Engine) notifyFailure(ctx context.Context, cmd Command, result Result) {
	if e.cfg.FailureHandler != nil {
		e.cfg.FailureHandler(ctx, cmd.Clone(), result)
	}
}

func (e *Engine) recoverInFlight(ctx context.Context, workspaceID string) error {
	if e.cfg.DisableRecovery {
		return nil
	}
	recoverer, ok := e.store.(InFlightRecoverer)
	if !ok {
		return nil
	}

	// A lapsed lease means the previous holder stopped renewing, not that its transport call ended.
	claimedBefore := e.cfg.Clock.Now()
	if _, ok := e.cfg.Locker.(LeaseLocker); ok {
		claimedBefore = claimedBefore.Add(-e.cfg.RecoveryGrace)
	}

	n, err := recoverer.RecoverInFlight(ctx, workspaceID, claimedBefore)
	if err != nil {
		return fmt.Errorf("outbox: recover in-flight commands failed: %w", err)
	}
	if n > 0 {
		e.cfg.Logger.Warn("outbox recovered in-flight commands", "workspace", workspaceID, "count", n)
	}

	return nil
}

func (e *Engine) recordStats(workspaceID string, stats Stats) {
	e.cfg.Metrics.AddSucceeded(workspaceID, stats.Succeeded)
	e.cfg.Metrics.AddRetries(workspaceID, stats.Retried)
	e.cfg.Metrics.AddFailed(workspaceID, stats.Failed)
	e.cfg.Metrics.AddConflicts(workspaceID, stats.Conflicts)
}

func (e *Engine) recordPending(ctx context.Context, workspaceID string) {
	counter, ok := e.store.(PendingCounter)
	if !ok || ctx.Err() != nil {
		return
	}

	count, err := counter.PendingCount(ctx, workspaceID)
	if err != nil {
		e.cfg.Logger.Warn("outbox pending count failed", "workspace", workspaceID, "err", err)

		return
	}
	e.cfg.Metrics.SetPending(workspaceID, count)
}
