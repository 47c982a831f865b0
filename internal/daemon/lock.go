// Package daemon tracks the background search server through a PID lock file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrRunning is returned by Acquire when a live server already owns the lock.
var ErrRunning = errors.New("server already running")

// ErrNotRunning is returned when no live server owns the lock.
var ErrNotRunning = errors.New("server not running")

// Lock is a PID file owned by at most one live server process.
type Lock struct {
	Path string
}

// NewLock returns a lock backed by the file at path.
func NewLock(path string) *Lock {
	return &Lock{Path: path}
}

// Acquire records pid as the owner. A file left behind by a dead process is replaced.
func (l *Lock) Acquire(pid int) error {
	if owner, alive := l.Owner(); alive {
		return fmt.Errorf("%w (pid %d)", ErrRunning, owner)
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	return os.WriteFile(l.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Release removes the lock if it is still owned by pid.
func (l *Lock) Release(pid int) error {
	owner, err := l.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && owner != pid {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Owner returns the recorded PID and whether that process is alive.
func (l *Lock) Owner() (int, bool) {
	pid, err := l.read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

func (l *Lock) read() (int, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid lock file %s", l.Path)
	}
	return pid, nil
}

// Stop asks the owning server to shut down.
func (l *Lock) Stop() (int, error) {
	pid, running := l.Owner()
	if !running {
		return 0, ErrNotRunning
	}
	if err := terminate(pid); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}
