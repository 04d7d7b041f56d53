// Package worktree provides the isolated git worktree each task runs in and
// the git command plumbing shared with checkpointing.
//
// Commands run through a CommandExecutor so that tests can substitute a
// scripted executor for the git binary.
package worktree

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct {
	// Env is appended to the current environment.
	Env []string
}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}
	return cmd.CombinedOutput()
}

// -----------------------------------------------------------------------------
// Git
// -----------------------------------------------------------------------------

// Git runs git commands in one directory.
type Git struct {
	dir      string
	executor CommandExecutor
}

// NewGit creates a Git for dir. A nil executor uses the git CLI.
func NewGit(dir string, executor CommandExecutor) *Git {
	if executor == nil {
		executor = NewCLICommandExecutor()
	}
	return &Git{dir: dir, executor: executor}
}

// Dir returns the directory commands run in.
func (g *Git) Dir() string { return g.dir }

// Run executes git with args and returns trimmed output. Failures are
// returned as GitError carrying the command output.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	output, err := g.executor.Run(ctx, g.dir, "git", args...)
	out := strings.TrimSpace(string(output))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return out, errors.NewGitError("git "+firstArg(args)+" failed", err).
			WithRepository(g.dir).
			WithGitOutput(out)
	}
	return out, nil
}

// StageAll runs git add -A.
func (g *Git) StageAll(ctx context.Context) error {
	_, err := g.Run(ctx, "add", "-A")
	return err
}

// Commit records a commit with message. allowEmpty permits commits with no
// changes so every call produces a new revision.
func (g *Git) Commit(ctx context.Context, message string, allowEmpty bool) error {
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	_, err := g.Run(ctx, args...)
	return err
}

// RevParse resolves ref to a full revision hash.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	return g.Run(ctx, "rev-parse", ref)
}

// ResetHard moves HEAD and the working tree to rev.
func (g *Git) ResetHard(ctx context.Context, rev string) error {
	_, err := g.Run(ctx, "reset", "--hard", rev)
	return err
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (g *Git) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := g.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether refs/heads/<branch> exists.
func (g *Git) BranchExists(ctx context.Context, branch string) bool {
	_, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// HasCommits reports whether the repository has at least one commit.
func (g *Git) HasCommits(ctx context.Context) bool {
	_, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	return err == nil
}

// Branches lists local branch names.
func (g *Git) Branches(ctx context.Context) ([]string, error) {
	out, err := g.Run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	return splitNonEmpty(out), nil
}

// SetConfig sets a git config key in the repository.
func (g *Git) SetConfig(ctx context.Context, key, value string) error {
	_, err := g.Run(ctx, "config", key, value)
	return err
}

// GetConfig reads a git config key. A missing key yields "".
func (g *Git) GetConfig(ctx context.Context, key string) string {
	out, err := g.Run(ctx, "config", "--get", key)
	if err != nil {
		return ""
	}
	return out
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
