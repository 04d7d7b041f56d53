// Package testutil provides git fixtures for autobuild tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

var gitEnv = []string{
	"GIT_AUTHOR_NAME=Autobuild Test",
	"GIT_AUTHOR_EMAIL=test@autobuild.dev",
	"GIT_COMMITTER_NAME=Autobuild Test",
	"GIT_COMMITTER_EMAIL=test@autobuild.dev",
}

// GitEnv returns environment entries that give git a committer identity.
func GitEnv() []string {
	return append([]string(nil), gitEnv...)
}

// SetupTestRepo creates a temporary git repository on branch main with one
// commit. It is removed when the test completes.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	Git(t, dir, "init")
	Git(t, dir, "config", "user.email", "test@autobuild.dev")
	Git(t, dir, "config", "user.name", "Autobuild Test")

	// git worktree requires at least one commit.
	WriteFile(t, dir, "README.md", "# Test Repository\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Initial commit")
	Git(t, dir, "branch", "-M", "main")
	return dir
}

// SetupTestRepoWithContent creates a test repository with the given files
// committed. The map is relative path to content.
func SetupTestRepoWithContent(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := SetupTestRepo(t)
	for path, content := range files {
		WriteFile(t, dir, path, content)
	}
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-m", "Add test files")
	return dir
}

// WriteFile writes content to path under dir, creating parent directories.
func WriteFile(t *testing.T, dir, path, content string) {
	t.Helper()

	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// CommitFile creates or updates a file and commits it.
func CommitFile(t *testing.T, repoDir, path, content, message string) {
	t.Helper()

	WriteFile(t, repoDir, path, content)
	Git(t, repoDir, "add", path)
	Git(t, repoDir, "commit", "-m", message)
}

// HeadRevision returns the full hash of HEAD.
func HeadRevision(t *testing.T, repoDir string) string {
	t.Helper()
	return Git(t, repoDir, "rev-parse", "HEAD")
}

// GetCommitCount returns the number of commits reachable from HEAD.
func GetCommitCount(t *testing.T, repoDir string) int {
	t.Helper()

	n, err := strconv.Atoi(Git(t, repoDir, "rev-list", "--count", "HEAD"))
	if err != nil {
		t.Fatalf("failed to parse commit count: %v", err)
	}
	return n
}

// HasUncommittedChanges returns true if the repository has uncommitted changes.
func HasUncommittedChanges(t *testing.T, repoDir string) bool {
	t.Helper()
	return Git(t, repoDir, "status", "--porcelain") != ""
}

// Git runs git in dir with a fixed identity and returns trimmed output,
// failing the test on error.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), gitEnv...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

// SkipIfNoGolangciLint skips the test if golangci-lint is not installed.
func SkipIfNoGolangciLint(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("golangci-lint"); err != nil {
		t.Skip("golangci-lint not found in PATH, skipping test")
	}
}
