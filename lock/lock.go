// Package lock provides single-writer locks keyed by string.
//
// Two uses in the engine:
//
//	recompute   "recompute:<employee>/<motif>/<period>"  TryLock, a held key
//	            is reported as a conflict and never retried
//	settlement  "installment:<id>"                       Lock, writers queue
//
// Local serves a single process. Redis extends the same keys across
// processes sharing one database.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned by Lock when the context ends first.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held key. Calling it twice is a no-op.
type Unlock func()

// Locker hands out per-key exclusive locks.
type Locker interface {
	// TryLock acquires key if free. ok is false when another holder has it.
	TryLock(ctx context.Context, key string) (unlock Unlock, ok bool, err error)
	// Lock waits for key until ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// =============================================================================
// LOCAL - In-process implementation
// =============================================================================

// Local keeps one buffered channel per key: holding the lock means owning
// the single slot. Idle keys are removed on release.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewLocal() *Local {
	return &Local{slots: map[string]*slot{}}
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) unlocker(key string, s *slot) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.releaseSlot(key, s)
		})
	}
}

func (l *Local) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), true, nil
	default:
		l.releaseSlot(key, s)
		return nil, false, nil
	}
}

func (l *Local) Lock(ctx context.Context, key string) (Unlock, error) {
	s := l.acquireSlot(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlocker(key, s), nil
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
}

// Held reports the number of keys currently locked or awaited.
func (l *Local) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
