package outbox

import (
	"context"
	"sync"
	"time"
)

// Locker provides per-scope mutual exclusion.
type Locker interface {
	// TryAcquire takes the lock for key without waiting and reports whether it was acquired.
	TryAcquire(ctx context.Context, key string) (bool, error)
	// Release frees a lock previously acquired by this locker.
	Release(ctx context.Context, key string) error
}

// LeaseLocker is a Locker whose locks expire unless renewed. Flush renews the lease while it holds
// the lock and stops claiming commands once a renewal fails.
type LeaseLocker interface {
	Locker
	// Extend renews a held lock for another LeaseTTL.
	Extend(ctx context.Context, key string) error
	// LeaseTTL reports how long a lock lives without renewal.
	LeaseTTL() time.Duration
}

// MemoryLocker serializes holders within a single process only.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty process-local locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryAcquire implements Locker.
func (l *MemoryLocker) TryAcquire(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = struct{}{}

	return true, nil
}

// Release implements Locker. Releasing a key that is not held is a no-op.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)

	return nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.held[key]

	return ok
}
