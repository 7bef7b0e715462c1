// Package zlog adapts a zerolog.Logger to outbox.Logger.
package zlog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	outbox "github.com/velmie/outbox-sync"
)

const badKey = "!BADKEY"

// Logger writes outbox key/value logs as zerolog fields.
type Logger struct {
	log zerolog.Logger
}

var _ outbox.Logger = Logger{}

// New wraps log.
func New(log zerolog.Logger) Logger {
	return Logger{log: log}
}

// Debug implements outbox.Logger.
func (l Logger) Debug(msg string, args ...any) {
	write(l.log.Debug(), msg, args)
}

// Info implements outbox.Logger.
func (l Logger) Info(msg string, args ...any) {
	write(l.log.Info(), msg, args)
}

// Warn implements outbox.Logger.
func (l Logger) Warn(msg string, args ...any) {
	write(l.log.Warn(), msg, args)
}

// Error implements outbox.Logger.
func (l Logger) Error(msg string, args ...any) {
	write(l.log.Error(), msg, args)
}

// write appends args as fields. A trailing key without a value, or a non-string key, is logged
// under !BADKEY.
func write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}

	for len(args) > 0 {
		key, ok := args[0].(string)
		if !ok || len(args) == 1 {
			e = e.Interface(badKey, args[0])
			args = args[1:]

			continue
		}

		switch v := args[1].(type) {
		case error:
			if key == "err" || key == zerolog.ErrorFieldName {
				e = e.Err(v)
			} else {
				e = e.AnErr(key, v)
			}
		case string:
			e = e.Str(key, v)
		case int:
			e = e.Int(key, v)
		case int64:
			e = e.Int64(key, v)
		case bool:
			e = e.Bool(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case time.Time:
			e = e.Time(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
		args = args[2:]
	}

	e.Msg(msg)
}
