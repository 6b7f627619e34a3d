// Package lock provides keyed advisory locks that serialize membership mutations
// touching the same email address.
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when the lock could not be obtained within the wait budget
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Release gives the lock back. Calling it more than once is harmless.
type Release func()

// Locker acquires a lock for key, blocking until it is free, the wait budget is
// spent, or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// Noop never blocks. Used when locking is disabled.
type Noop struct{}

// Acquire always succeeds immediately
func (Noop) Acquire(context.Context, string) (Release, error) {
	return func() {}, nil
}
