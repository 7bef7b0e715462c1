package outbox

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ResultKind classifies a transport outcome.
type ResultKind int

const (
	// ResultOK means the command was fully applied remotely.
	ResultOK ResultKind = iota
	// ResultRetryable means a transient failure; the engine reschedules with backoff.
	ResultRetryable
	// ResultFatal means a permanent rejection; the engine marks the command failed.
	ResultFatal
	// ResultConflict means the command's assumptions about remote state are stale.
	ResultConflict
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultRetryable:
		return "retryable"
	case ResultFatal:
		return "fatal"
	case ResultConflict:
		return "conflict"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the classified outcome of executing one command.
type Result struct {
	Kind ResultKind
	// Err is set for retryable and fatal results.
	Err error
	// Message and ServerState are set for conflicts.
	Message     string
	ServerState json.RawMessage
}

// OK reports a fully applied command.
func OK() Result {
	return Result{Kind: ResultOK}
}

// Retryable reports a transient failure.
func Retryable(err error) Result {
	return Result{Kind: ResultRetryable, Err: err}
}

// Fatal reports a permanent rejection.
func Fatal(err error) Result {
	return Result{Kind: ResultFatal, Err: err}
}

// Conflict reports a remote state conflict.
func Conflict(message string, serverState json.RawMessage) Result {
	return Result{Kind: ResultConflict, Message: message, ServerState: serverState}
}

func (r Result) errorText() string {
	if r.Err == nil {
		return ""
	}

	return truncateError(r.Err.Error())
}

const maxErrorLen = 1024

func truncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
