//go:build linux || darwin

package hlsseeker

import (
	"os"
	"syscall"
)

// flockExclusive takes an exclusive, blocking advisory lock on f, used to
// serialize the master-playlist merge *between processes* (threads within
// one worker never race on it), per spec.md §5's locking discipline.
func flockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
