package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

// Review states recorded on a task branch.
const (
	StatusPreserved = "preserved"
	StatusReview    = "review"
)

const lockReason = "autobuild: preserved for human review"

// Workspace is the isolated worktree a task's engine owns for a run.
type Workspace struct {
	TaskID     string
	Path       string
	Branch     string
	BaseBranch string
	CreatedAt  time.Time
	// Resumed is true when Acquire reused an existing worktree.
	Resumed bool
}

// Options configures a Manager.
type Options struct {
	// Dir holds one worktree per task. Defaults to <repo>/.autobuild/worktrees.
	Dir string
	// BranchPrefix names task branches <prefix>/<taskID>.
	BranchPrefix string
	// BaseBranch is the branch new worktrees start from. Defaults to the
	// repository's current branch.
	BaseBranch string
	Executor   CommandExecutor
	Logger     *logging.Logger
}

// Manager creates and tracks task worktrees. Worktrees are never removed
// automatically; Remove is an explicit user action.
type Manager struct {
	repoDir      string
	dir          string
	branchPrefix string
	baseBranch   string
	git          *Git
	executor     CommandExecutor
	logger       *logging.Logger

	mu sync.Mutex
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("not a git repository (or any parent up to mount point)", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string, opts Options) (*Manager, error) {
	root, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	if opts.Executor == nil {
		opts.Executor = NewCLICommandExecutor()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = "autobuild"
	}
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(root, ".autobuild", "worktrees")
	}
	return &Manager{
		repoDir:      root,
		dir:          dir,
		branchPrefix: opts.BranchPrefix,
		baseBranch:   opts.BaseBranch,
		git:          NewGit(root, opts.Executor),
		executor:     opts.Executor,
		logger:       opts.Logger.With("component", "worktree"),
	}, nil
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string { return m.repoDir }

// PathFor returns where the task's worktree lives.
func (m *Manager) PathFor(taskID string) string {
	return filepath.Join(m.dir, taskID)
}

// BranchFor returns the task's branch name.
func (m *Manager) BranchFor(taskID string) string {
	return m.branchPrefix + "/" + taskID
}

// Acquire returns the task's worktree, creating it from the base branch when
// it does not exist yet. An existing worktree is reused so that interrupted
// runs can resume.
func (m *Manager) Acquire(ctx context.Context, taskID string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.PathFor(taskID)
	branch := m.BranchFor(taskID)

	base, err := m.resolveBase(ctx)
	if err != nil {
		return nil, errors.NewEnvironmentError("workspace", err).WithPath(path)
	}

	if isWorktree(path) {
		m.logger.Info("reusing existing worktree", "task_id", taskID, "path", path)
		return &Workspace{TaskID: taskID, Path: path, Branch: branch, BaseBranch: base, CreatedAt: time.Now(), Resumed: true}, nil
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, errors.NewEnvironmentError("workspace", err).WithPath(m.dir)
	}

	if m.git.BranchExists(ctx, branch) {
		// A stale branch without a worktree is left over from a removed
		// workspace; start fresh from the base.
		m.logger.Warn("deleting stale task branch", "task_id", taskID, "branch", branch)
		if _, err := m.git.Run(ctx, "branch", "-D", branch); err != nil {
			return nil, errors.NewEnvironmentError("workspace", err).WithPath(path)
		}
	}

	if _, err := m.git.Run(ctx, "worktree", "add", path, "-b", branch, base); err != nil {
		return nil, errors.NewEnvironmentError("workspace", err).WithPath(path)
	}

	if err := m.InitSubmodules(ctx, path); err != nil {
		return nil, errors.NewEnvironmentError("workspace submodules", err).WithPath(path)
	}

	m.logger.Info("created worktree", "task_id", taskID, "path", path, "branch", branch, "base", base)
	return &Workspace{TaskID: taskID, Path: path, Branch: branch, BaseBranch: base, CreatedAt: time.Now()}, nil
}

// Preserve locks the worktree so git worktree prune never removes it.
func (m *Manager) Preserve(ctx context.Context, ws *Workspace) error {
	if !isWorktree(ws.Path) {
		return errors.NewGitError("workspace is missing", errors.ErrWorktreeNotFound).WithWorktree(ws.Path)
	}
	if _, err := m.git.Run(ctx, "worktree", "lock", "--reason", lockReason, ws.Path); err != nil {
		var gerr *errors.GitError
		if !errors.As(err, &gerr) || !strings.Contains(gerr.GitOutput, "already locked") {
			return err
		}
	}
	if m.Status(ctx, ws) != StatusReview {
		if err := m.setStatus(ctx, ws, StatusPreserved); err != nil {
			return err
		}
	}
	m.logger.Info("workspace preserved", "task_id", ws.TaskID, "path", ws.Path)
	return nil
}

// MarkForReview flags the task branch as ready for human review.
func (m *Manager) MarkForReview(ctx context.Context, ws *Workspace) error {
	if err := m.setStatus(ctx, ws, StatusReview); err != nil {
		return err
	}
	m.logger.Info("workspace marked for review", "task_id", ws.TaskID, "branch", ws.Branch)
	return nil
}

// Status returns the review state recorded on the task branch, or "".
func (m *Manager) Status(ctx context.Context, ws *Workspace) string {
	return m.git.GetConfig(ctx, statusKey(ws.Branch))
}

// Get returns the workspace for a task if its worktree exists.
func (m *Manager) Get(taskID string) (*Workspace, error) {
	path := m.PathFor(taskID)
	if !isWorktree(path) {
		return nil, errors.NewNotFoundError("workspace", taskID).WithCause(errors.ErrWorktreeNotFound)
	}
	ws := &Workspace{TaskID: taskID, Path: path, Branch: m.BranchFor(taskID), BaseBranch: m.baseBranch, Resumed: true}
	if info, err := os.Stat(path); err == nil {
		ws.CreatedAt = info.ModTime()
	}
	return ws, nil
}

// Remove unlocks and deletes the task's worktree and branch.
func (m *Manager) Remove(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.PathFor(taskID)
	_, _ = m.git.Run(ctx, "worktree", "unlock", path)
	if _, err := m.git.Run(ctx, "worktree", "remove", "--force", path); err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.git.Run(ctx, "worktree", "prune")
		m.logger.Warn("worktree removal fell back to manual cleanup", "path", path, "error", err)
	}
	branch := m.BranchFor(taskID)
	if m.git.BranchExists(ctx, branch) {
		if _, err := m.git.Run(ctx, "branch", "-D", branch); err != nil {
			return err
		}
	}
	return nil
}

// List returns the paths of all task worktrees managed here.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := m.git.Run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	prefix := filepath.Clean(m.dir) + string(filepath.Separator)
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if p, ok := strings.CutPrefix(line, "worktree "); ok && strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (m *Manager) resolveBase(ctx context.Context) (string, error) {
	if !m.git.HasCommits(ctx) {
		return "", fmt.Errorf("repository has no commits; create an initial commit first")
	}
	base := m.baseBranch
	if base == "" {
		current, err := m.git.CurrentBranch(ctx)
		if err != nil {
			return "", err
		}
		return current, nil
	}
	if !m.git.BranchExists(ctx, base) {
		branches, _ := m.git.Branches(ctx)
		return "", errors.NewGitError(
			fmt.Sprintf("base branch %q does not exist (available: %s)", base, strings.Join(branches, ", ")),
			errors.ErrBranchNotFound).WithBranch(base)
	}
	return base, nil
}

func (m *Manager) setStatus(ctx context.Context, ws *Workspace, status string) error {
	return m.git.SetConfig(ctx, statusKey(ws.Branch), status)
}

func statusKey(branch string) string {
	return "branch." + branch + ".autobuildStatus"
}

// isWorktree reports whether path is a linked worktree checkout.
func isWorktree(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil && info.Mode().IsRegular()
}
