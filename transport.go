package outbox

import "context"

// Transport executes exactly one command against the remote boundary and classifies the outcome.
//
// Transports contain no retry or scheduling logic. A non-nil error means the transport failed in an
// unexpected way; the engine treats it as retryable so no mutation is lost, but logs it distinctly.
// The engine only re-invokes Execute for a command whose previous result was retryable.
type Transport interface {
	Execute(ctx context.Context, cmd Command) (Result, error)
}

// BatchTransport optionally executes several commands of one workspace in a single remote call.
//
// It returns either one Result per command, in order, or a single aggregate Result that applies to
// every command.
type BatchTransport interface {
	ExecuteBatch(ctx context.Context, cmds []Command) ([]Result, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, cmd Command) (Result, error)

// Execute implements Transport.
func (fn TransportFunc) Execute(ctx context.Context, cmd Command) (Result, error) {
	return fn(ctx, cmd)
}
