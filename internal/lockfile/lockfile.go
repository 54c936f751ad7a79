// Package lockfile keeps a single nestor process per state directory.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyLocked indicates the lock is held by another process.
var ErrAlreadyLocked = errors.New("lock already held")

// HeldError reports the lock owner. It matches ErrAlreadyLocked with errors.Is.
type HeldError struct {
	Path string
	// PID is the owner recorded in the file, or 0 when unknown.
	PID int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("another nestor process (pid %d) holds %s", e.PID, e.Path)
	}
	return fmt.Sprintf("another nestor process holds %s", e.Path)
}

func (e *HeldError) Is(target error) bool { return target == ErrAlreadyLocked }

type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock at path without blocking, creating parent dirs as needed.
func Acquire(path string) (*Lock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrAlreadyLocked) {
			return nil, &HeldError{Path: path, PID: ReadPID(path)}
		}
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// ReadPID returns the pid recorded in a lock file, or 0.
func ReadPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Unlock first; close always.
	unlockErr := unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
