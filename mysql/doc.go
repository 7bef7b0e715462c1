// Package mysql provides a MySQL 8.0+ outbox.Store for hosts that share one command table, an
// outbox.Locker built on GET_LOCK advisory locks, and a maintainer that removes old terminal
// commands.
//
// The DSN must enable parseTime. Timestamps are written in UTC.
//
// See Schema for the table definition.
package mysql
