package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LockInfo is the JSON payload written into daemon.lock, identifying
// which process holds the per-domain-socket-directory daemon lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// ReadLockInfo reads dir/daemon.lock, accepting both the current JSON
// format and the legacy plain-PID format. It tries a shared lock around
// the read; while ddsd holds its exclusive lock that attempt fails and
// the file is read without a lock, so a read that races
// AcquireDaemonLock's truncate-then-write can see partial content.
func ReadLockInfo(dir string) (*LockInfo, error) {
	path := filepath.Join(dir, "daemon.lock")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read daemon.lock: %w", err)
	}
	defer f.Close()

	if err := FlockSharedNonBlock(f); err == nil {
		defer FlockUnlock(f)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read daemon.lock: %w", err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err == nil && info.PID != 0 {
		return &info, nil
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("lockfile: daemon.lock is neither JSON nor a plain PID")
	}
	return &LockInfo{PID: pid}, nil
}

// checkPIDFile reports whether dir/daemon.pid names a currently-running
// process, the fallback used when daemon.lock is absent or unparsable.
func checkPIDFile(dir string) (running bool, pid int) {
	data, err := os.ReadFile(filepath.Join(dir, "daemon.pid"))
	if err != nil {
		return false, 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}
	if !isProcessRunning(n) {
		return false, 0
	}
	return true, n
}

// TryDaemonLock reports whether a daemon already holds the lock in dir,
// and if so, its PID. It never blocks: a successful non-blocking flock
// acquisition proves nobody holds it, and the probing lock is released
// immediately.
func TryDaemonLock(dir string) (running bool, pid int) {
	lockPath := filepath.Join(dir, "daemon.lock")
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0644)
	if err != nil {
		return checkPIDFile(dir)
	}
	defer f.Close()

	if flockErr := FlockExclusiveNonBlocking(f); flockErr == nil {
		FlockUnlock(f)
		return false, 0
	}

	info, err := ReadLockInfo(dir)
	if err != nil {
		return checkPIDFile(dir)
	}
	return true, info.PID
}

// AcquireDaemonLock creates (if needed) and locks dir/daemon.lock,
// stamping it with the calling process's PID and start time. The
// caller must keep the returned file open for the daemon's lifetime
// and call ReleaseDaemonLock on shutdown.
func AcquireDaemonLock(dir string, info LockInfo) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("lockfile: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, "daemon.lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := FlockExclusiveNonBlocking(f); err != nil {
		f.Close()
		return nil, ErrLocked
	}

	info.PID = os.Getpid()
	info.StartedAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: marshal lock info: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
	}

	return f, nil
}

// ReleaseDaemonLock unlocks and removes dir/daemon.lock.
func ReleaseDaemonLock(f *os.File, dir string) error {
	FlockUnlock(f)
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(filepath.Join(dir, "daemon.lock"))
}
