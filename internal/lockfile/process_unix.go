//go:build unix || linux || darwin

package lockfile

import (
	"syscall"
)

// isProcessRunning reports whether pid (read back from daemon.lock or
// daemon.pid) still names a live process, distinguishing a stale lockfile
// left behind by a killed ddsd from one still actively held.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false // 0 would signal our process group, not a specific process
	}
	return syscall.Kill(pid, 0) == nil
}
