package engine

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/coach"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

// Concerns recorded on a synthetic report.
const (
	concernPlayerFailed = "Player failed with error: "
	concernRecovered    = "Work recovered via git diff"
)

// workspaceChanges lists files changed since the last commit, split into
// modified and newly created. Paths under exclude are skipped.
func workspaceChanges(dir, exclude string) (modified, created []string, err error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "open workspace repository")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return nil, nil, errors.Wrap(err, "workspace status")
	}

	for file, s := range status {
		if exclude != "" && (file == exclude || strings.HasPrefix(file, exclude+"/")) {
			continue
		}
		switch {
		case s.Worktree == git.Untracked || s.Staging == git.Added:
			created = append(created, file)
		case s.Worktree != git.Unmodified || s.Staging != git.Unmodified:
			modified = append(modified, file)
		}
	}
	sort.Strings(modified)
	sort.Strings(created)
	return modified, created, nil
}

// IsTestFile reports whether a workspace path looks like a test by name.
func IsTestFile(p string) bool {
	p = filepath.ToSlash(p)
	base := path.Base(p)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasSuffix(base, "_test.py"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	return strings.HasPrefix(p, "tests/") || strings.Contains(p, "/tests/")
}

// synthesize rebuilds a Player report from the workspace when the Player
// left none, or left one that could not be used.
func (e *Engine) synthesize(ctx context.Context, r *run, turn int, playerErr error, logger *logging.Logger) *artifact.PlayerReport {
	modified, created, err := workspaceChanges(r.ws.Path, r.artifactDir)
	if err != nil {
		logger.Warn("workspace status unavailable for synthetic report", "error", err)
	}

	var tests []string
	for _, f := range append(append([]string{}, modified...), created...) {
		if IsTestFile(f) {
			tests = append(tests, f)
		}
	}
	sort.Strings(tests)

	testsRun, testsPassed := e.runTests(ctx, r, logger)

	var concerns []string
	if playerErr != nil {
		concerns = append(concerns, concernPlayerFailed+playerErr.Error())
	}
	concerns = append(concerns, concernRecovered)

	report := &artifact.PlayerReport{
		TaskID:                r.task.ID,
		Turn:                  turn,
		FilesModified:         nonNil(modified),
		FilesCreated:          nonNil(created),
		TestsWritten:          nonNil(tests),
		TestsRun:              testsRun,
		TestsPassed:           testsPassed,
		ImplementationNotes:   "Reconstructed from workspace changes; the Player left no usable report.",
		Concerns:              concerns,
		RequirementsAddressed: []string{},
		RequirementsRemaining: append([]string{}, r.task.AcceptanceCriteria...),
		Synthetic:             true,
	}
	if err := r.store.Write(artifact.KindPlayerReport, r.task.ID, turn, report); err != nil {
		logger.Warn("failed to persist synthetic report", "error", err)
	}
	e.ensureWorkResults(r, turn, report, logger)

	logger.Info("synthetic report created",
		"files_modified", len(modified),
		"files_created", len(created),
		"tests_passed", testsPassed,
	)
	return report
}

// ensureWorkResults gives the Coach something to judge for a synthetic turn.
// Results the Player did write for this turn are left alone. The recovered
// results carry no architecture score, so they never pass the gates.
func (e *Engine) ensureWorkResults(r *run, turn int, report *artifact.PlayerReport, logger *logging.Logger) {
	var existing artifact.TaskWorkResults
	if err := r.store.Read(artifact.KindTaskWorkResults, r.task.ID, 0, &existing); err == nil && existing.Turn == turn {
		return
	}
	passed := report.TestsPassed
	results := artifact.TaskWorkResults{
		TaskID:        r.task.ID,
		Turn:          turn,
		QualityGates:  artifact.QualityGates{AllPassed: &passed},
		FilesModified: report.FilesModified,
		FilesCreated:  report.FilesCreated,
		TestsWritten:  report.TestsWritten,
		Synthetic:     true,
	}
	if err := r.store.Write(artifact.KindTaskWorkResults, r.task.ID, 0, results); err != nil {
		logger.Warn("failed to persist synthetic work results", "error", err)
	}
}

// runTests runs the task's test command in the workspace. It reports
// whether a command ran and whether it exited cleanly.
func (e *Engine) runTests(ctx context.Context, r *run, logger *logging.Logger) (ran, passed bool) {
	command := r.task.TestCommand
	if command == "" {
		command = e.cfg.TestCommand
	}
	if command == "" {
		command = coach.DetectTestCommand(r.ws.Path)
	}
	if command == "" {
		logger.Debug("no test command for synthetic report")
		return false, false
	}

	ctx, cancel := withTimeout(ctx, e.opts.ValidateTimeout)
	defer cancel()
	out, err := e.cfg.TestRunner.Run(ctx, coach.ShellCommand(r.ws.Path, command, nil))
	if err != nil {
		logger.Warn("test command failed to run", "command", command, "error", err)
		return true, false
	}
	return true, out.ExitCode == 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
