package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker for single-replica deployments and tests.
type Local struct {
	wait time.Duration

	mu   sync.Mutex
	held map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates a Local locker. A non-positive wait blocks until ctx is done.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, held: make(map[string]*slot)}
}

// Acquire implements Locker
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	s := l.ref(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-timeout:
		l.unref(key)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key)
		})
	}, nil
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.held[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.held[key] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.held[key]
	s.refs--
	if s.refs == 0 {
		delete(l.held, key)
	}
}

// size reports the number of keys currently tracked
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
