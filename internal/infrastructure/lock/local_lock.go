package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process Locker for single-instance deployments
// without Redis. ttl is ignored.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]chan struct{}
	retry time.Duration
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{}), retry: 5 * time.Millisecond}
}

func (l *LocalLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (func(), error) {
	for {
		release, ok, _ := l.TryAcquire(ctx, key, owner, ttl)
		if ok {
			return release, nil
		}
		l.mu.Lock()
		wait := l.held[key]
		l.mu.Unlock()
		if wait == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key, _ string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	done := make(chan struct{})
	l.held[key] = done
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}, true, nil
}
