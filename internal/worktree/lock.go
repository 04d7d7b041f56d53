package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

// RunLock marks a task as being run by one process. The lock file sits next
// to the task's worktree, outside it, so checkpoints never commit it.
type RunLock struct {
	TaskID    string    `json:"task_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// LockPath returns the run lock file of a task.
func (m *Manager) LockPath(taskID string) string {
	return filepath.Join(m.dir, taskID+".lock")
}

// Lock takes the task's run lock. A lock left by a process that no longer
// exists is replaced. Locks held by a live process fail with ErrTaskLocked.
func (m *Manager) Lock(taskID string) (*RunLock, error) {
	path := m.LockPath(taskID)
	logger := m.logger.WithTask(taskID)

	if held, err := ReadLock(path); err == nil {
		if processAlive(held.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s since %s", errors.ErrTaskLocked,
				held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewEnvironmentError("run lock", err).WithPath(path)
		}
		logger.Warn("removed stale run lock", "old_pid", held.PID)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, errors.NewEnvironmentError("run lock", err).WithPath(m.dir)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &RunLock{
		TaskID:    taskID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, err
	}

	// O_EXCL loses the race cleanly against a concurrent Lock.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock created concurrently", errors.ErrTaskLocked)
		}
		return nil, errors.NewEnvironmentError("run lock", err).WithPath(path)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, errors.NewEnvironmentError("run lock", err).WithPath(path)
	}

	logger.Debug("run lock acquired", "pid", lock.PID)
	return lock, nil
}

// Locked returns the live lock on a task, if any.
func (m *Manager) Locked(taskID string) (*RunLock, bool) {
	lock, err := ReadLock(m.LockPath(taskID))
	if err != nil || !processAlive(lock.PID) {
		return nil, false
	}
	return lock, true
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once and on a nil lock.
func (l *RunLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	held, err := ReadLock(l.path)
	if err != nil || held.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Debug("run lock released")
	}
	return nil
}

// ReadLock parses a run lock file.
func ReadLock(path string) (*RunLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock RunLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse run lock: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// processAlive sends signal 0, which checks existence without side effects.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
