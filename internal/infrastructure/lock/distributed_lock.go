package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis distributed lock
// ============================================================================
//
// Acquire: SET key owner NX PX ttl
//   - NX keeps it exclusive
//   - the TTL frees the key if the holder dies
//   - owner identifies the holder so only it can release
//
// Release: a Lua script deletes the key only while it still holds owner, so
// a holder whose lock already expired cannot delete its successor's lock.
//
// ============================================================================

var ErrLockFailed = errors.New("failed to acquire lock")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock retries TryLock every retryInterval, at most maxRetries times.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

// RedisLocker hands out DistributedLocks. It satisfies service.Locker.
type RedisLocker struct {
	client        *redis.Client
	retryInterval time.Duration
	maxRetries    int
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, retryInterval: 100 * time.Millisecond, maxRetries: 30}
}

// Acquire blocks until key is held by owner. The returned release func is
// safe to call once on every exit path.
func (r *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (func(), error) {
	l := NewDistributedLock(r.client, key, owner, ttl)
	if err := l.Lock(ctx, r.retryInterval, r.maxRetries); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return func() {
		// release must not depend on the caller's ctx, which may be done
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, nil
}

// TryAcquire makes a single attempt; ok is false when someone else holds key.
func (r *RedisLocker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (func(), bool, error) {
	l := NewDistributedLock(r.client, key, owner, ttl)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Unlock(unlockCtx)
	}, true, nil
}

// RechargeLockKey serialises wallet top-ups per user.
func RechargeLockKey(userID int64) string {
	return fmt.Sprintf("wallet:lock:user:%d", userID)
}

// DispatchLockKey lets one instance run the scheduled cycle for a day.
func DispatchLockKey(day string) string {
	return fmt.Sprintf("dispatch:lock:%s", day)
}
