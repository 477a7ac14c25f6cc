// Package lockfile provides the advisory single-writer lock every write
// operation on a repository takes before touching the object store.
package lockfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
)

// Name is the lock file's name within a repository directory.
const Name = "bunsen.lock"

// Lockfile wraps an advisory file lock for a repository's single-writer
// protocol: ingest, repair, and any other mutating operation must hold it
// for the duration of their ref updates.
type Lockfile struct {
	flock *flock.Flock
}

// New returns a lockfile handle for the given repository directory. It does
// not acquire the lock; call TryLock or Lock for that.
func New(repoDir string) *Lockfile {
	return &Lockfile{flock: flock.New(filepath.Join(repoDir, Name))}
}

// TryLock attempts to acquire the lock without blocking. It returns a
// LockHeld error if another process currently holds it.
func (l *Lockfile) TryLock() error {
	locked, err := l.flock.TryLock()
	if err != nil {
		return bunsenerr.Wrap(bunsenerr.KindStoreIO, "acquire lock", err)
	}

	if !locked {
		return bunsenerr.New(bunsenerr.KindLockHeld, "repository is locked by another process")
	}

	return nil
}

// Lock blocks, retrying every retryDelay, until the lock is acquired or ctx
// is done.
func (l *Lockfile) Lock(ctx context.Context, retryDelay time.Duration) error {
	locked, err := l.flock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return bunsenerr.Wrap(bunsenerr.KindStoreIO, "acquire lock", err)
	}

	if !locked {
		return bunsenerr.New(bunsenerr.KindLockHeld, "repository is locked by another process")
	}

	return nil
}

// Unlock releases the lock. It is a no-op if the lock is not held.
func (l *Lockfile) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return bunsenerr.Wrap(bunsenerr.KindStoreIO, fmt.Sprintf("release lock %s", l.flock.Path()), err)
	}

	return nil
}

// Path returns the underlying lock file's path.
func (l *Lockfile) Path() string {
	return l.flock.Path()
}

// WithLock acquires the lock (blocking up to ctx's deadline, retrying every
// retryDelay), runs fn, and releases the lock before returning fn's error
// unchanged.
func WithLock(ctx context.Context, repoDir string, retryDelay time.Duration, fn func() error) error {
	lf := New(repoDir)

	if err := lf.Lock(ctx, retryDelay); err != nil {
		return err
	}
	defer lf.Unlock() //nolint:errcheck // best-effort release; fn's error takes priority.

	return fn()
}
