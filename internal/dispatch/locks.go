package dispatch

import (
	"context"
	"sync"
)

// lockTable hands out per-conversation mutual exclusion. Locks are created
// on first use and reclaimed as soon as no goroutine holds or waits for
// them, so the table stays proportional to live conversations rather than
// all conversations ever seen.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*convLock)}
}

// acquire blocks until the conversation lock is held or ctx is done.
func (t *lockTable) acquire(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	l, ok := t.locks[conversationID]
	if !ok {
		l = &convLock{ch: make(chan struct{}, 1)}
		t.locks[conversationID] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.unref(conversationID, l)
		return ctx.Err()
	}
}

// release frees a lock previously taken with acquire.
func (t *lockTable) release(conversationID string) {
	t.mu.Lock()
	l, ok := t.locks[conversationID]
	t.mu.Unlock()
	if !ok {
		return
	}
	<-l.ch
	t.unref(conversationID, l)
}

func (t *lockTable) unref(conversationID string, l *convLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, conversationID)
	}
	t.mu.Unlock()
}

// size reports how many conversation locks currently exist.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
