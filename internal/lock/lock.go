// Package lock provides advisory file locks keyed by path. Locks are held on
// a "<path>.lock" sibling so that the protected file itself can be replaced
// by rename while the lock is held.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/scrypster/membank/pkg/types"
)

// retryDelay is how often a contended lock is retried.
const retryDelay = 25 * time.Millisecond

// FileLock is an exclusive advisory lock for one path.
type FileLock struct {
	path string
	fl   *flock.Flock
}

// LockPath returns the lock file path used for target.
func LockPath(target string) string {
	return target + ".lock"
}

// Acquire takes the exclusive lock for target, waiting up to timeout.
// It returns an error wrapping types.ErrLockTimeout when the lock is still
// held by someone else after timeout. The directory of target must exist.
func Acquire(ctx context.Context, target string, timeout time.Duration) (*FileLock, error) {
	lockPath := LockPath(target)
	fl := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w after %s", lockPath, types.ErrLockTimeout, timeout)
		}
		return nil, types.ClassifyIOError("lock "+lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w after %s", lockPath, types.ErrLockTimeout, timeout)
	}

	return &FileLock{path: target, fl: fl}, nil
}

// Path returns the path the lock protects.
func (l *FileLock) Path() string {
	return l.path
}

// Release unlocks. The lock file is left on disk; removing it would let a
// waiter lock an unlinked inode while a newcomer locks a fresh file.
func (l *FileLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
