package outbox

import (
	"encoding/json"
	"time"
)

// Command is a locally-originated mutation awaiting delivery to the remote system of record.
type Command struct {
	// ID is client-generated and stable across retries.
	ID string
	// WorkspaceID scopes ordering and locking.
	WorkspaceID string
	// Type routes the command to a transport (e.g., "sale.finalize").
	Type string
	// Payload is opaque to the engine.
	Payload json.RawMessage
	// CreatedAt is the client time at enqueue and the FIFO ordering key.
	CreatedAt time.Time
	Status    Status
	Attempts  int
	// NextAttemptAt is set only while pending after a retryable failure.
	NextAttemptAt *time.Time
	// IdempotencyKey lets the remote collapse duplicate deliveries of the same logical operation.
	IdempotencyKey string
	ClientTraceID  string
	// LastError holds the most recent retryable or fatal error text.
	LastError string
	// Conflict is retained when the remote reports a state conflict.
	Conflict  *ConflictInfo
	UpdatedAt time.Time
}

// ConflictInfo captures the remote context of a CONFLICT outcome.
type ConflictInfo struct {
	Message     string          `json:"message"`
	ServerState json.RawMessage `json:"serverState,omitempty"`
}

// Validate checks required fields and JSON validity of the payload.
func (c Command) Validate() error {
	if c.ID == "" {
		return ErrCommandIDRequired
	}
	if c.WorkspaceID == "" {
		return ErrWorkspaceRequired
	}
	if c.Type == "" {
		return ErrCommandTypeRequired
	}
	if !c.Status.Valid() {
		return ErrInvalidStatus
	}
	if c.Attempts < 0 {
		return ErrInvalidAttempts
	}
	if len(c.Payload) > 0 && !json.Valid(c.Payload) {
		return ErrInvalidPayload
	}

	return nil
}

// Due reports whether the command is eligible for delivery at now.
func (c Command) Due(now time.Time) bool {
	if c.Status != StatusPending {
		return false
	}

	return c.NextAttemptAt == nil || !c.NextAttemptAt.After(now)
}

// Clone returns a deep copy so stores can hand out commands without sharing buffers.
func (c Command) Clone() Command {
	out := c
	if c.Payload != nil {
		out.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	if c.NextAttemptAt != nil {
		next := *c.NextAttemptAt
		out.NextAttemptAt = &next
	}
	if c.Conflict != nil {
		conflict := *c.Conflict
		if c.Conflict.ServerState != nil {
			conflict.ServerState = append(json.RawMessage(nil), c.Conflict.ServerState...)
		}
		out.Conflict = &conflict
	}

	return out
}

// CommandOption customizes a command built by CommandBuilder.
type CommandOption func(*Command)

// WithCommandID uses a caller-supplied id instead of a generated one, so retrying the same enqueue
// call records a single command.
func WithCommandID(id string) CommandOption {
	return func(c *Command) {
		c.ID = id
	}
}

// WithIdempotencyKey overrides the default idempotency key (the command id).
func WithIdempotencyKey(key string) CommandOption {
	return func(c *Command) {
		c.IdempotencyKey = key
	}
}

// WithClientTraceID sets the correlation id.
func WithClientTraceID(traceID string) CommandOption {
	return func(c *Command) {
		c.ClientTraceID = traceID
	}
}

// CommandBuilder constructs pending commands for feature code at action time.
type CommandBuilder struct {
	gen   IDGenerator
	clock Clock
}

// NewCommandBuilder creates a builder; nil arguments fall back to UUIDGenerator and SystemClock.
func NewCommandBuilder(gen IDGenerator, clock Clock) *CommandBuilder {
	if clock == nil {
		clock = SystemClock{}
	}
	if gen == nil {
		gen = UUIDGenerator{}
	}

	return &CommandBuilder{gen: gen, clock: clock}
}

// Build returns a validated PENDING command. The id is generated unless WithCommandID supplies one.
func (b *CommandBuilder) Build(workspaceID, commandType string, payload json.RawMessage, opts ...CommandOption) (Command, error) {
	now := b.clock.Now()
	cmd := Command{
		WorkspaceID: workspaceID,
		Type:        commandType,
		Payload:     payload,
		CreatedAt:   now,
		Status:      StatusPending,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(&cmd)
	}
	if cmd.ID == "" {
		id, err := b.gen.NewID()
		if err != nil {
			return Command{}, err
		}
		cmd.ID = id
	}
	if cmd.IdempotencyKey == "" {
		cmd.IdempotencyKey = cmd.ID
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}

	return cmd, nil
}
