package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for serialized timestamps.
const TimestampLayout = time.RFC3339Nano

// serializedEnvelope holds every field encoding/json may rewrite freely. Payload and conflict carry
// caller bytes and are appended verbatim after it, because the encoder compacts and HTML-escapes
// raw messages.
type serializedEnvelope struct {
	CommandID      string  `json:"commandId"`
	WorkspaceID    string  `json:"workspaceId"`
	Type           string  `json:"type"`
	CreatedAt      string  `json:"createdAt"`
	Status         Status  `json:"status"`
	Attempts       int     `json:"attempts"`
	NextAttemptAt  *string `json:"nextAttemptAt,omitempty"`
	IdempotencyKey string  `json:"idempotencyKey"`
	ClientTraceID  string  `json:"clientTraceId,omitempty"`
	LastError      string  `json:"lastError,omitempty"`
	UpdatedAt      *string `json:"updatedAt,omitempty"`
}

type serializedCommand struct {
	serializedEnvelope
	Payload  json.RawMessage `json:"payload,omitempty"`
	Conflict *ConflictInfo   `json:"conflict,omitempty"`
}

// SerializeCommand converts a command into a storage-safe JSON document in which timestamps are
// ISO-8601 strings. The payload and the conflict server state are embedded byte for byte; only
// whitespace around a JSON value is not part of it and is dropped by DeserializeCommand.
func SerializeCommand(cmd Command) ([]byte, error) {
	if !cmd.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, string(cmd.Status))
	}
	if len(cmd.Payload) > 0 && !json.Valid(cmd.Payload) {
		return nil, ErrInvalidPayload
	}
	if cmd.Conflict != nil && len(cmd.Conflict.ServerState) > 0 && !json.Valid(cmd.Conflict.ServerState) {
		return nil, ErrInvalidPayload
	}

	doc := serializedEnvelope{
		CommandID:      cmd.ID,
		WorkspaceID:    cmd.WorkspaceID,
		Type:           cmd.Type,
		CreatedAt:      FormatTimestamp(cmd.CreatedAt),
		Status:         cmd.Status,
		Attempts:       cmd.Attempts,
		IdempotencyKey: cmd.IdempotencyKey,
		ClientTraceID:  cmd.ClientTraceID,
		LastError:      cmd.LastError,
	}
	if cmd.NextAttemptAt != nil {
		next := FormatTimestamp(*cmd.NextAttemptAt)
		doc.NextAttemptAt = &next
	}
	if !cmd.UpdatedAt.IsZero() {
		updated := FormatTimestamp(cmd.UpdatedAt)
		doc.UpdatedAt = &updated
	}

	var buf bytes.Buffer
	if err := encodeJSON(&buf, doc); err != nil {
		return nil, fmt.Errorf("outbox: serialize command %s: %w", cmd.ID, err)
	}
	buf.Truncate(buf.Len() - 1) // closing brace

	if len(cmd.Payload) > 0 {
		buf.WriteString(`,"payload":`)
		buf.Write(cmd.Payload)
	}
	if cmd.Conflict != nil {
		buf.WriteString(`,"conflict":{"message":`)
		if err := encodeJSON(&buf, cmd.Conflict.Message); err != nil {
			return nil, fmt.Errorf("outbox: serialize command %s: %w", cmd.ID, err)
		}
		if len(cmd.Conflict.ServerState) > 0 {
			buf.WriteString(`,"serverState":`)
			buf.Write(cmd.Conflict.ServerState)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// encodeJSON writes v without HTML escaping and without the encoder's trailing newline.
func encodeJSON(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)

	return nil
}

// DeserializeCommand restores a command produced by SerializeCommand.
func DeserializeCommand(data []byte) (Command, error) {
	var doc serializedCommand
	if err := json.Unmarshal(data, &doc); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidSerializedCommand, err)
	}

	createdAt, err := ParseTimestamp(doc.CreatedAt)
	if err != nil {
		return Command{}, fmt.Errorf("%w: createdAt: %w", ErrInvalidSerializedCommand, err)
	}

	cmd := Command{
		ID:             doc.CommandID,
		WorkspaceID:    doc.WorkspaceID,
		Type:           doc.Type,
		Payload:        doc.Payload,
		CreatedAt:      createdAt,
		Status:         doc.Status,
		Attempts:       doc.Attempts,
		IdempotencyKey: doc.IdempotencyKey,
		ClientTraceID:  doc.ClientTraceID,
		LastError:      doc.LastError,
		Conflict:       doc.Conflict,
	}
	if !cmd.Status.Valid() {
		return Command{}, fmt.Errorf("%w: status %q", ErrInvalidSerializedCommand, string(cmd.Status))
	}
	if doc.NextAttemptAt != nil {
		next, err := ParseTimestamp(*doc.NextAttemptAt)
		if err != nil {
			return Command{}, fmt.Errorf("%w: nextAttemptAt: %w", ErrInvalidSerializedCommand, err)
		}
		cmd.NextAttemptAt = &next
	}
	if doc.UpdatedAt != nil {
		updated, err := ParseTimestamp(*doc.UpdatedAt)
		if err != nil {
			return Command{}, fmt.Errorf("%w: updatedAt: %w", ErrInvalidSerializedCommand, err)
		}
		cmd.UpdatedAt = updated
	}

	return cmd, nil
}

// FormatTimestamp renders t as an ISO-8601 UTC string with nanosecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 string produced by FormatTimestamp.
func ParseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, value)
	if err != nil {
		return time.Time{}, err
	}

	return t.UTC(), nil
}
