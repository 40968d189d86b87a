//go:build !unix

package catalog

import (
	"fmt"
	"os"

	"omnicortex/internal/types"
)

// acquireLock falls back to lock-file existence where flock is unavailable.
// Windows keeps the file open, which already prevents concurrent deletion.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open lock file: %v", types.ErrIO, err)
	}
	return f, nil
}

func releaseLock(f *os.File) {
	if f == nil {
		return
	}
	_ = f.Close()
}
