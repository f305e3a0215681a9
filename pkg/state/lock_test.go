package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireTickLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick.lock")

	release, err := AcquireTickLock(path, DefaultLockStaleAfter)
	require.NoError(t, err)

	// A second acquire while held fails.
	_, err = AcquireTickLock(path, DefaultLockStaleAfter)
	assert.ErrorIs(t, err, ErrTickActive)

	release()

	release2, err := AcquireTickLock(path, DefaultLockStaleAfter)
	require.NoError(t, err)
	release2()
}

func TestAcquireTickLock_StaleTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick.lock")

	release, err := AcquireTickLock(path, DefaultLockStaleAfter)
	require.NoError(t, err)
	defer release()

	// Age the lock file past the stale window.
	old := time.Now().Add(-20 * time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	release2, err := AcquireTickLock(path, 15*time.Minute)
	require.NoError(t, err)
	release2()
}
