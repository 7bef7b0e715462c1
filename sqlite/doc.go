// Package sqlite provides a client-resident outbox.Store on top of modernc.org/sqlite.
//
// Each row carries the columns used for selection (workspace, status, creation and schedule
// instants as unix nanoseconds) next to the full command body produced by outbox.SerializeCommand.
// The body is the source of truth when a command is read back.
package sqlite
