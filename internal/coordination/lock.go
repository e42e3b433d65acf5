package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL is the default lock time-to-live.
	DefaultLockTTL = 30 * time.Second
	// DefaultRetryDelay is the default delay between acquisition attempts.
	DefaultRetryDelay = 100 * time.Millisecond
	// DefaultMaxRetries is the default number of acquisition attempts.
	DefaultMaxRetries = 10
)

var (
	// ErrLockNotAcquired is returned when another owner holds the lock.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when releasing or extending a lock this owner lost.
	ErrLockNotHeld = errors.New("lock not held")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// LockConfig holds configuration for a distributed lock.
type LockConfig struct {
	TTL        time.Duration
	RetryDelay time.Duration
	MaxRetries int
}

// DistributedLock is a token-owned Redis lock. Only the owner that set the
// token can extend or release it.
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	token      string
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// NewDistributedLock creates a lock on key owned by token.
func NewDistributedLock(client redis.Cmdable, key, token string, cfg LockConfig) *DistributedLock {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &DistributedLock{
		client:     client,
		key:        key,
		token:      token,
		ttl:        cfg.TTL,
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
	}
}

// Lock acquires the lock, retrying until attempts run out or ctx ends.
func (l *DistributedLock) Lock(ctx context.Context) error {
	for i := range l.maxRetries {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if i == l.maxRetries-1 {
			break
		}
		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("lock %s: %w", l.key, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s", ErrLockNotAcquired, l.key)
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this owner still holds it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the TTL if this owner still holds the lock.
func (l *DistributedLock) Extend(ctx context.Context) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Holder returns the token currently stored under the key, or "" if free.
func (l *DistributedLock) Holder(ctx context.Context) (string, error) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s: %w", l.key, err)
	}
	return val, nil
}

// Key returns the lock key.
func (l *DistributedLock) Key() string { return l.key }

// TTL returns the configured lock TTL.
func (l *DistributedLock) TTL() time.Duration { return l.ttl }
