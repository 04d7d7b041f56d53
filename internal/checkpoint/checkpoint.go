// Package checkpoint snapshots a task workspace after every turn and rolls
// it back when later turns degrade it.
//
// Each checkpoint is a git commit in the task's worktree. The history is
// persisted to checkpoints.json in the task's artifact directory so that it
// survives restarts and can be inspected with `autobuild checkpoints list`.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
	"github.com/Iron-Ham/autobuild/internal/worktree"
)

// CommitPrefix marks checkpoint commits in the task branch history.
const CommitPrefix = "[autobuild-checkpoint]"

// DefaultConsecutiveFailures is how many failing checkpoints in a row signal
// context pollution.
const DefaultConsecutiveFailures = 2

// Checkpoint is an immutable snapshot of the workspace after a turn.
type Checkpoint struct {
	Turn        int       `json:"turn"`
	Revision    string    `json:"commit_hash"`
	TestsPassed bool      `json:"tests_passed"`
	TestCount   int       `json:"test_count"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// ShortRevision returns the first 8 characters of the revision.
func (c Checkpoint) ShortRevision() string {
	if len(c.Revision) > 8 {
		return c.Revision[:8]
	}
	return c.Revision
}

type historyFile struct {
	TaskID      string       `json:"task_id"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Manager owns the checkpoint history of one task workspace. All operations
// are serialized.
type Manager struct {
	mu          sync.Mutex
	git         *worktree.Git
	store       *artifact.Store
	taskID      string
	checkpoints []Checkpoint
	threshold   int
	logger      *logging.Logger
	now         func() time.Time
}

// NewManager creates a Manager for the workspace git operates in. Call Load
// to restore a persisted history.
func NewManager(git *worktree.Git, store *artifact.Store, taskID string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		git:       git,
		store:     store,
		taskID:    taskID,
		threshold: DefaultConsecutiveFailures,
		logger:    logger.WithTask(taskID).With("component", "checkpoint"),
		now:       time.Now,
	}
}

// Load restores the history from checkpoints.json. A missing file leaves the
// history empty.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var h historyFile
	err := m.store.Read(artifact.KindCheckpoints, m.taskID, 0, &h)
	switch {
	case errors.Is(err, errors.ErrArtifactMissing):
		m.checkpoints = nil
		return nil
	case err != nil:
		return err
	}
	m.checkpoints = h.Checkpoints
	m.logger.Debug("loaded checkpoints", "count", len(m.checkpoints))
	return nil
}

// CreateCheckpoint commits the whole workspace, including untracked files,
// and records it against turn. Empty commits are allowed so every turn gets
// its own revision.
func (m *Manager) CreateCheckpoint(ctx context.Context, turn int, testsPassed bool, testCount int) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.checkpoints); n > 0 && turn <= m.checkpoints[n-1].Turn {
		return Checkpoint{}, errors.NewCheckpointError("create", fmt.Errorf("turn %d is not after last checkpoint turn %d", turn, m.checkpoints[n-1].Turn)).
			WithTurn(turn)
	}

	status := "fail"
	if testsPassed {
		status = "pass"
	}
	message := fmt.Sprintf("%s Turn %d complete (tests: %s)", CommitPrefix, turn, status)

	if err := m.git.StageAll(ctx); err != nil {
		return Checkpoint{}, errors.NewCheckpointError("create", err).WithTurn(turn)
	}
	if err := m.git.Commit(ctx, message, true); err != nil {
		return Checkpoint{}, errors.NewCheckpointError("create", err).WithTurn(turn)
	}
	rev, err := m.git.RevParse(ctx, "HEAD")
	if err != nil {
		return Checkpoint{}, errors.NewCheckpointError("create", err).WithTurn(turn)
	}

	cp := Checkpoint{
		Turn:        turn,
		Revision:    rev,
		TestsPassed: testsPassed,
		TestCount:   testCount,
		Message:     message,
		Timestamp:   m.now(),
	}
	m.checkpoints = append(m.checkpoints, cp)
	if err := m.saveLocked(); err != nil {
		// The commit exists; only the audit file is stale.
		m.logger.Warn("failed to persist checkpoints", "error", err)
	}

	m.logger.Info("checkpoint created", "turn", turn, "revision", cp.ShortRevision(), "tests_passed", testsPassed)
	return cp, nil
}

// ShouldRollback reports whether the most recent checkpoints all failed,
// suggesting later turns are degrading the workspace.
func (m *Manager) ShouldRollback() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.checkpoints) < m.threshold {
		return false
	}
	for _, cp := range m.checkpoints[len(m.checkpoints)-m.threshold:] {
		if cp.TestsPassed {
			return false
		}
	}
	m.logger.Warn("context pollution detected", "consecutive_failures", m.threshold)
	return true
}

// FindLastPassingCheckpoint returns the newest checkpoint with passing tests.
func (m *Manager) FindLastPassingCheckpoint() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.checkpoints) - 1; i >= 0; i-- {
		if m.checkpoints[i].TestsPassed {
			return m.checkpoints[i], true
		}
	}
	return Checkpoint{}, false
}

// RollbackTo hard-resets the workspace to the checkpoint recorded for turn
// and forgets every later checkpoint.
func (m *Manager) RollbackTo(ctx context.Context, turn int) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, cp := range m.checkpoints {
		if cp.Turn == turn {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Checkpoint{}, errors.NewCheckpointError("rollback", errors.ErrNoCheckpoints).WithTurn(turn)
	}
	cp := m.checkpoints[idx]

	m.logger.Info("rolling back", "turn", turn, "revision", cp.ShortRevision())
	if err := m.git.ResetHard(ctx, cp.Revision); err != nil {
		return Checkpoint{}, errors.NewCheckpointError("rollback", err).WithTurn(turn).WithRevision(cp.Revision)
	}

	dropped := len(m.checkpoints) - idx - 1
	m.checkpoints = m.checkpoints[:idx+1]
	if err := m.saveLocked(); err != nil {
		m.logger.Warn("failed to persist checkpoints", "error", err)
	}
	m.logger.Info("rollback complete", "turn", turn, "dropped", dropped)
	return cp, nil
}

// Checkpoints returns a copy of the history, oldest first.
func (m *Manager) Checkpoints() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// Get returns the checkpoint recorded for turn.
func (m *Manager) Get(turn int) (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cp := range m.checkpoints {
		if cp.Turn == turn {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

func (m *Manager) saveLocked() error {
	return m.store.Write(artifact.KindCheckpoints, m.taskID, 0, historyFile{
		TaskID:      m.taskID,
		Checkpoints: m.checkpoints,
		LastUpdated: m.now(),
	})
}
