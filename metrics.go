package outbox

import "time"

// Metrics captures engine-level telemetry.
type Metrics interface {
	// ObserveFlushDuration records the time spent in a flush that acquired the lock.
	ObserveFlushDuration(workspaceID string, duration time.Duration)
	// AddSucceeded increments the count of delivered commands.
	AddSucceeded(workspaceID string, count int)
	// AddRetries increments the count of rescheduled commands.
	AddRetries(workspaceID string, count int)
	// AddUnexpected increments the count of transport errors and panics.
	AddUnexpected(workspaceID string, count int)
	// AddFailed increments the count of failed commands.
	AddFailed(workspaceID string, count int)
	// AddConflicts increments the count of conflicting commands.
	AddConflicts(workspaceID string, count int)
	// AddContended increments the count of flushes skipped due to lock contention.
	AddContended(workspaceID string)
	// SetPending updates the pending command count of a workspace.
	SetPending(workspaceID string, count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveFlushDuration implements Metrics.
func (NopMetrics) ObserveFlushDuration(string, time.Duration) {}

// AddSucceeded implements Metrics.
func (NopMetrics) AddSucceeded(string, int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(string, int) {}

// AddUnexpected implements Metrics.
func (NopMetrics) AddUnexpected(string, int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(string, int) {}

// AddConflicts implements Metrics.
func (NopMetrics) AddConflicts(string, int) {}

// AddContended implements Metrics.
func (NopMetrics) AddContended(string) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(string, int) {}
