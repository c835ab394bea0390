package aethervault

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sunilkgrao/aethervault/internal/types"
)

// lockExclusive takes a non-blocking exclusive flock on f, returning
// ErrLockBusy if another process already holds it.
func lockExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return types.ErrLockBusy
	}
	return err
}

// lockShared takes a non-blocking shared flock on f, for read-only opens.
func lockShared(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return types.ErrLockBusy
	}
	return err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
