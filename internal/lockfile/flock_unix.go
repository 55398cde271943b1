//go:build unix

package lockfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func flockExclusiveNonBlock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

func flockSharedNonBlock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLockBusy
	}
	return err
}

func flockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		// 0 would signal our own process group
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
