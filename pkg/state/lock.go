package state

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrTickActive means another tick holds the lock; the caller exits
// silently without writing anything.
var ErrTickActive = errors.New("another tick is active")

// DefaultLockStaleAfter is how old a lock file may be before it is treated
// as left behind by a crashed process and taken over.
const DefaultLockStaleAfter = 15 * time.Minute

// AcquireTickLock takes the process-wide tick lock by exclusively creating
// the lock file. It returns a release func on success.
func AcquireTickLock(path string, staleAfter time.Duration) (func(), error) {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create tick lock: %w", err)
		}

		info, serr := os.Stat(path)
		if serr != nil {
			// Lost a race with the holder's release; one retry covers it.
			continue
		}
		if time.Since(info.ModTime()) < staleAfter {
			return nil, ErrTickActive
		}

		// Stale lock from a crashed tick; remove and retry once.
		os.Remove(path)
	}

	return nil, ErrTickActive
}
