package outbox

import "context"

// RetryAction defines how a retryable failure should be handled.
type RetryAction int

const (
	// RetryReschedule reschedules the command with backoff.
	RetryReschedule RetryAction = iota
	// RetryAbandon marks the command as failed and hands it to the failure handler.
	RetryAbandon
)

// RetryPolicy decides whether a command that just failed retryably gets another attempt.
// attempts is the count including the failure being handled.
type RetryPolicy func(ctx context.Context, cmd Command, attempts int) RetryAction

// UnlimitedRetries never abandons a command. It is the engine default: a command keeps retrying
// with capped backoff until a human or a host-side policy intervenes.
func UnlimitedRetries(context.Context, Command, int) RetryAction {
	return RetryReschedule
}

// MaxAttempts abandons a command once it has failed retryably limit times.
// A non-positive limit is equivalent to UnlimitedRetries.
func MaxAttempts(limit int) RetryPolicy {
	if limit <= 0 {
		return UnlimitedRetries
	}

	return func(_ context.Context, _ Command, attempts int) RetryAction {
		if attempts >= limit {
			return RetryAbandon
		}

		return RetryReschedule
	}
}

// FailureHandler is called when a command reaches FAILED or CONFLICT, e.g. to escalate it to an
// operator queue. It runs after the outcome is persisted.
type FailureHandler func(ctx context.Context, cmd Command, result Result)
