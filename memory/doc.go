// Package memory provides an in-process outbox.Store for tests, demos, and hosts that accept losing
// the queue on restart.
package memory
