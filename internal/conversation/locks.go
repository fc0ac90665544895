package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eino_agent_router/internal/storage"
)

// Locker serializes turns of a thread across processes
type Locker interface {
	Lock(ctx context.Context, threadID string, ttl time.Duration) (storage.UnlockFunc, error)
}

// lockEntry is a context-aware mutex shared by every waiter on one thread
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// threadLocks hands out per-thread locks and forgets them once no goroutine
// holds or waits for them
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*lockEntry)}
}

func (l *threadLocks) acquire(threadID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[threadID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, threadID)
	}
}

// lock blocks until threadID is free or ctx is done
func (l *threadLocks) lock(ctx context.Context, threadID string) (func(), error) {
	entry := l.acquire(threadID)
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID)
		return nil, fmt.Errorf("%w: %v", storage.ErrLockAcquire, ctx.Err())
	}
	return func() {
		<-entry.sem
		l.release(threadID)
	}, nil
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
