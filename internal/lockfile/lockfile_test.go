package lockfile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/lockfile"
)

func TestTryLockAcquiresAndReleases(t *testing.T) {
	dir := t.TempDir()

	lf := lockfile.New(dir)
	require.NoError(t, lf.TryLock())
	require.NoError(t, lf.Unlock())
}

func TestTryLockHeldByAnotherHandle(t *testing.T) {
	dir := t.TempDir()

	first := lockfile.New(dir)
	require.NoError(t, first.TryLock())
	defer first.Unlock() //nolint:errcheck

	second := lockfile.New(dir)
	err := second.TryLock()
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindLockHeld, kind)
}

func TestWithLockRunsAndReleases(t *testing.T) {
	dir := t.TempDir()

	ran := false
	err := lockfile.WithLock(context.Background(), dir, 10*time.Millisecond, func() error {
		ran = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	lf := lockfile.New(dir)
	assert.NoError(t, lf.TryLock())
	assert.NoError(t, lf.Unlock())
}
