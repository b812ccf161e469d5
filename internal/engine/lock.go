package engine

import (
	"context"
	"sync"
	"time"
)

// docLocks serializes reconciliation per document. SQLite has no row locks,
// so the pessimistic document lock is process-local; the immediate write
// transaction underneath backstops cross-process writers.
type docLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newDocLocks() *docLocks {
	return &docLocks{held: make(map[string]chan struct{})}
}

// acquire takes the lock for id, waiting at most timeout. On success the
// returned func releases the lock; on timeout it returns ErrLockTimeout.
func (l *docLocks) acquire(ctx context.Context, id string, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		l.mu.Lock()
		ch, taken := l.held[id]
		if !taken {
			l.held[id] = make(chan struct{})
			l.mu.Unlock()
			return func() { l.release(id) }, nil
		}
		l.mu.Unlock()
		select {
		case <-ch:
			// holder released; try again
		case <-timer.C:
			return nil, ErrLockTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *docLocks) release(id string) {
	l.mu.Lock()
	ch := l.held[id]
	delete(l.held, id)
	l.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}
