package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerMutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, RechargeLockKey(7), "req", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLockerTryAcquire(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, DispatchLockKey("2026-10-16"), "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, DispatchLockKey("2026-10-16"), "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = l.TryAcquire(ctx, DispatchLockKey("2026-10-17"), "b", time.Minute)
	assert.True(t, ok)

	release()
	release()
	_, ok, _ = l.TryAcquire(ctx, DispatchLockKey("2026-10-16"), "b", time.Minute)
	assert.True(t, ok)
}

func TestLocalLockerAcquireHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	_, ok, _ := l.TryAcquire(context.Background(), "k", "a", time.Minute)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, "k", "b", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
