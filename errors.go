package outbox

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrCommandNotFound is returned when a command id is unknown to the store.
	ErrCommandNotFound = errors.New("outbox command not found")
	// ErrCommandIDRequired is returned when Command.ID is empty.
	ErrCommandIDRequired = errors.New("outbox command id is required")
	// ErrWorkspaceRequired is returned when a workspace id is empty.
	ErrWorkspaceRequired = errors.New("outbox workspace id is required")
	// ErrCommandTypeRequired is returned when Command.Type is empty.
	ErrCommandTypeRequired = errors.New("outbox command type is required")
	// ErrInvalidPayload is returned when Command.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("outbox status is invalid")
	// ErrInvalidAttempts is returned when Command.Attempts is negative.
	ErrInvalidAttempts = errors.New("outbox attempts must be non-negative")
	// ErrInvalidSerializedCommand is returned when a serialized command cannot be decoded.
	ErrInvalidSerializedCommand = errors.New("outbox serialized command is invalid")
	// ErrUnknownCommandType is returned by Router for a type without a registered transport.
	ErrUnknownCommandType = errors.New("outbox command type has no transport")
	// ErrTransportPanic indicates a transport panicked while executing a command.
	ErrTransportPanic = errors.New("outbox transport panic")
	// ErrBatchResultMismatch indicates a batch transport returned an unexpected number of results.
	ErrBatchResultMismatch = errors.New("outbox batch result count mismatch")
	// ErrLeaseLost aborts a flush whose lock lease could not be renewed.
	ErrLeaseLost = errors.New("outbox lock lease lost")
	// ErrRetriesExhausted is recorded when the retry policy abandons a command.
	ErrRetriesExhausted = errors.New("outbox retries exhausted")
)
