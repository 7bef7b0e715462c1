package outbox

import "sync/atomic"

// NetworkMonitor exposes the current connectivity signal.
//
// The engine only uses it to skip a flush while known to be offline. Correctness never depends on
// it: the Lock and transport results are the actual guarantee.
type NetworkMonitor interface {
	// Online reports whether the remote is believed reachable.
	Online() bool
}

// StaticMonitor is a NetworkMonitor toggled by the host, e.g. from reachability events.
type StaticMonitor struct {
	offline atomic.Bool
}

// NewStaticMonitor returns a monitor with the given initial state.
func NewStaticMonitor(online bool) *StaticMonitor {
	m := &StaticMonitor{}
	m.Set(online)

	return m
}

// Online implements NetworkMonitor.
func (m *StaticMonitor) Online() bool {
	return !m.offline.Load()
}

// Set updates the connectivity state.
func (m *StaticMonitor) Set(online bool) {
	m.offline.Store(!online)
}
