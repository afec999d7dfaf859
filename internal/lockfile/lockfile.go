// Package lockfile gives a pipeline run exclusive advisory ownership of
// the cache directory. Two concurrent imports against the same cache would
// interleave prunes and writes, so the second run must fail fast instead.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const lockName = ".shelfsync.lock"

// Lock is a held cache-directory lock.
type Lock struct {
	path string
}

type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Acquire creates the lock file in dir with O_EXCL semantics. A leftover
// lock whose process no longer exists is broken and re-acquired.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, lockName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), StartedAt: time.Now().UTC()}
			enc := json.NewEncoder(f)
			if encErr := enc.Encode(info); encErr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("lockfile: write: %w", encErr)
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("lockfile: close: %w", err)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lockfile: create: %w", err)
		}
		if !stale(path) {
			return nil, fmt.Errorf("lockfile: cache %s is locked by another run", dir)
		}
		// Stale lock from a dead process; break it and retry once.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("lockfile: break stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("lockfile: cache %s is locked by another run", dir)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: release: %w", err)
	}
	return nil
}

// stale reports whether the lock's owning process is gone.
func stale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unreadable lock content; treat as stale.
		return true
	}
	if info.PID <= 0 {
		return true
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return true
	}
	// Signal 0 probes for existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) != nil
}
