//go:build !linux && !darwin

package hlsseeker

import "os"

// flockExclusive is a no-op on platforms without an advisory-lock syscall.
// The production image runs on Linux, where flock_unix.go's real
// implementation applies.
func flockExclusive(f *os.File) error { return nil }

func funlock(f *os.File) error { return nil }
