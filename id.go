package outbox

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator creates new command identifiers. It is used by callers constructing commands,
// never by the engine.
type IDGenerator interface {
	// NewID returns a new identifier.
	NewID() (string, error)
}

// UUIDGenerator produces time-ordered UUID v7 identifiers.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("outbox: generate id failed: %w", err)
	}

	return id.String(), nil
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (string, error)

// NewID implements IDGenerator.
func (fn IDGeneratorFunc) NewID() (string, error) {
	return fn()
}
