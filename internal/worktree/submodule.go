package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/util"
)

// SubmoduleError represents an error during submodule operations.
type SubmoduleError struct {
	Operation string
	Output    string
	Err       error
}

func (e *SubmoduleError) Error() string {
	return "submodule " + e.Operation + " failed: " + e.Err.Error() + "\n" + e.Output
}

func (e *SubmoduleError) Unwrap() error {
	return e.Err
}

// HasSubmodules reports whether the repository has a non-empty .gitmodules.
func (m *Manager) HasSubmodules() bool {
	info, err := os.Stat(filepath.Join(m.repoDir, ".gitmodules"))
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

// InitSubmodules initializes submodules in a fresh worktree so the Player and
// the Coach's test run see a complete checkout. Non-critical warnings from
// git are logged and ignored.
func (m *Manager) InitSubmodules(ctx context.Context, worktreePath string) error {
	if !m.HasSubmodules() {
		return nil
	}

	// protocol.file.allow=always permits local file:// submodule URLs, which
	// git 2.38.1+ blocks by default.
	args := []string{"-c", "protocol.file.allow=always", "submodule", "update", "--init", "--recursive"}
	output, err := m.executor.Run(ctx, worktreePath, "git", args...)
	m.logger.Debug("git submodule command", "args", args, "output", util.TruncateString(string(output), 500))

	if err != nil {
		if isSubmoduleCriticalError(string(output)) {
			return &SubmoduleError{Operation: "init", Output: string(output), Err: err}
		}
		m.logger.Warn("submodule initialization had issues",
			"path", worktreePath,
			"output", util.TruncateString(string(output), 500))
		return nil
	}
	m.logger.Info("submodules initialized", "path", worktreePath)
	return nil
}

// isSubmoduleCriticalError separates failures that leave the checkout
// unusable from warnings.
func isSubmoduleCriticalError(output string) bool {
	criticalPatterns := []string{
		"fatal:",
		"permission denied",
		"could not read from remote",
		"repository not found",
		"unable to access",
		"authentication failed",
		"host key verification failed",
		"no submodule mapping found",
	}

	lower := strings.ToLower(output)
	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return strings.Contains(lower, "clone") && strings.Contains(lower, "failed")
}
