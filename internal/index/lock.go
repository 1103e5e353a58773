package index

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is an advisory filesystem lock held alongside the index file,
// enforcing the single-writer-per-index rule from §5: at most one
// archive or restore holds an exclusive Lock at a time; ls takes a
// shared lock. No example repo in the pack implements file locking, so
// this wraps flock(2) directly via golang.org/x/sys/unix rather than
// inventing a bespoke coordination scheme.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the lock file at path and
// flocks it. exclusive selects LOCK_EX vs LOCK_SH. Acquire blocks until
// the lock is available.
func Acquire(path string, exclusive bool) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("releasing lock: %w", err)
	}
	return l.f.Close()
}
