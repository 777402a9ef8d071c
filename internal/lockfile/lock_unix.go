//go:build unix

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// errDaemonLocked is returned when another ddsd already holds the
// exclusive lock on a domain socket directory's daemon.lock.
var errDaemonLocked = errors.New("daemon lock already held by another process")

// flockExclusive acquires the domain-directory's exclusive, non-blocking
// daemon lock.
func flockExclusive(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return errDaemonLocked
	}
	return err
}

// FlockExclusiveNonBlocking attempts to acquire an exclusive non-blocking lock.
// Returns nil if lock acquired, errDaemonLocked if lock is held by another process.
func FlockExclusiveNonBlocking(f *os.File) error {
	return flockExclusive(f)
}

// FlockExclusiveBlocking acquires an exclusive lock on the file, waiting
// for a concurrently-starting daemon to exit first. ddsd itself never
// calls this — it exists for tooling that must wait out a restart rather
// than fail fast the way AcquireDaemonLock does.
func FlockExclusiveBlocking(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// FlockUnlock releases a previously-acquired shared or exclusive lock.
func FlockUnlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
