// Package outbox provides the sync core of an offline-first client: a durable command outbox and
// an Engine that delivers queued commands to a remote system of record.
//
// Typical flow:
//  1. A feature builds a Command (see CommandBuilder) and enqueues it into a Store at action time.
//  2. The host application tracks the workspaces it serves with Engine.Track.
//  3. On a timer, a foreground event, or a user action, the host calls Engine.Flush. The engine
//     takes the workspace Lock, delivers due commands through the Transport one at a time, and
//     persists each outcome (succeeded, rescheduled with backoff, failed, or conflict).
//
// The engine has no background loop of its own. Storage adapters live in the memory, sqlite, and
// mysql packages; cross-process locks live in redislock and mysql.
package outbox
