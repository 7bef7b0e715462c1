package outbox

import "fmt"

// Status represents the lifecycle state of an outbox command.
type Status string

const (
	// StatusPending indicates the command awaits delivery.
	StatusPending Status = "PENDING"
	// StatusInFlight indicates the command was claimed by a flush and handed to the transport.
	StatusInFlight Status = "IN_FLIGHT"
	// StatusSucceeded indicates the command was applied remotely.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed indicates the command was permanently rejected or abandoned.
	StatusFailed Status = "FAILED"
	// StatusConflict indicates the remote state no longer matches the command's assumptions.
	StatusConflict Status = "CONFLICT"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusSucceeded, StatusFailed, StatusConflict:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further delivery attempts follow this status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusConflict
}

func (s Status) String() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, string(s))
	}

	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed := Status(text)
	if !parsed.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, string(text))
	}
	*s = parsed

	return nil
}
