// Package redislock implements outbox.Locker on Redis so flushes of one workspace are exclusive
// across processes and devices sharing a Redis instance.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	outbox "github.com/velmie/outbox-sync"
)

const (
	defaultPrefix = "outbox:lock:"
	defaultTTL    = 30 * time.Second

	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

var (
	// ErrClientRequired is returned when a nil Redis client is provided.
	ErrClientRequired = errors.New("outbox redislock: client is required")
	// ErrKeyRequired is returned when a lock is requested for an empty key.
	ErrKeyRequired = errors.New("outbox redislock: key is required")
	// ErrLockLost is returned when the lock expired or was taken over before it was released or
	// extended.
	ErrLockLost = errors.New("outbox redislock: lock expired or held by another owner")
	// ErrNotHeld is returned by Extend for a key this locker does not hold.
	ErrNotHeld = errors.New("outbox redislock: lock is not held")
)

// Locker holds token-owned Redis locks. Only the owner that set a key can delete or extend it.
// Locks expire after the TTL so a crashed holder cannot block a workspace forever.
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	tokens outbox.IDGenerator

	mu   sync.Mutex
	held map[string]string
}

var _ outbox.LeaseLocker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithTTL sets how long a lock lives without being released or extended.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		l.ttl = ttl
	}
}

// WithTokenGenerator sets the source of owner tokens.
func WithTokenGenerator(gen outbox.IDGenerator) Option {
	return func(l *Locker) {
		l.tokens = gen
	}
}

// NewLocker creates a Locker using client.
func NewLocker(client redis.UniversalClient, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	l := &Locker{client: client, held: make(map[string]string)}
	for _, opt := range opts {
		opt(l)
	}
	if l.prefix == "" {
		l.prefix = defaultPrefix
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	if l.tokens == nil {
		l.tokens = outbox.UUIDGenerator{}
	}

	return l, nil
}

// TryAcquire implements outbox.Locker.
func (l *Locker) TryAcquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrKeyRequired
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return false, nil
	}

	token, err := l.tokens.NewID()
	if err != nil {
		return false, fmt.Errorf("outbox redislock: token failed: %w", err)
	}
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("outbox redislock: acquire %s failed: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	l.held[key] = token

	return true, nil
}

// Release implements outbox.Locker. Releasing a key this locker does not hold is a no-op.
func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()

	if !ok {
		return nil
	}

	res, err := l.client.Eval(ctx, unlockScript, []string{l.prefix + key}, token).Int64()
	if err != nil {
		return fmt.Errorf("outbox redislock: release %s failed: %w", key, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}

	return nil
}

// Extend implements outbox.LeaseLocker. It pushes the expiry of a held lock to a full TTL from now.
func (l *Locker) Extend(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.held[key]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}

	ttl := strconv.FormatInt(l.ttl.Milliseconds(), 10)
	res, err := l.client.Eval(ctx, extendScript, []string{l.prefix + key}, token, ttl).Int64()
	if err != nil {
		return fmt.Errorf("outbox redislock: extend %s failed: %w", key, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}

	return nil
}

// LeaseTTL implements outbox.LeaseLocker.
func (l *Locker) LeaseTTL() time.Duration {
	return l.ttl
}
