//go:build !unix

package lockfile

import "os"

// Without flock the lock file is advisory only: Acquire always succeeds and
// Probe trusts the recorded pid.

func flockExclusiveNonBlock(*os.File) error { return nil }

func flockSharedNonBlock(*os.File) error { return ErrLockBusy }

func flockUnlock(*os.File) error { return nil }

func isProcessRunning(pid int) bool { return pid > 0 }
