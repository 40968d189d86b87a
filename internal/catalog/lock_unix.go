//go:build unix

package catalog

import (
	"fmt"
	"os"
	"syscall"

	"omnicortex/internal/types"
)

// acquireLock takes a non-blocking advisory flock on the lock file. Another
// handle holding the lock means another core owns this catalog.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open lock file: %v", types.ErrIO, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: catalog is locked by another process: %v", types.ErrConflict, err)
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
