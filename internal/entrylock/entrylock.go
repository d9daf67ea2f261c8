// Package entrylock provides the per-entry advisory file lock that
// keeps two invocations of record, clean, or reset from touching the
// same entry's pin and clone directories at once.
package entrylock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const acquireTimeout = 5 * time.Second

// Lock guards one entry's pin/clone directories against concurrent
// record/clean/reset invocations.
type Lock struct {
	f *flock.Flock
}

// Acquire takes an exclusive lock on <pinsRoot>/.<name>.lock, waiting
// up to acquireTimeout before giving up.
func Acquire(pinsRoot, name string) (*Lock, error) {
	if err := os.MkdirAll(pinsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating pins root: %w", err)
	}
	path := filepath.Join(pinsRoot, "."+name+".lock")
	f := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()
	locked, err := f.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("entry %s is already locked by another forkyard invocation", name)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	return l.f.Unlock()
}
