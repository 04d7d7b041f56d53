package cmd

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/util"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [task-id...]",
	Short: "Remove task worktrees and branches",
	Long: `Remove the worktrees and branches autobuild created for tasks.

Worktrees are kept after every run so the result can be reviewed; nothing
removes them automatically. Name the tasks to remove, or pass --all.

Examples:
  # See what would be removed
  autobuild clean --all --dry-run

  # Remove one task without prompting
  autobuild clean TASK-42 --force`,
	RunE: runClean,
}

var (
	cleanAll    bool
	cleanDryRun bool
	cleanForce  bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Remove every task worktree")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Show what would be removed without removing anything")
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "Skip the confirmation prompt")
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanAll == (len(args) > 0) {
		return errors.NewValidationError("name tasks to remove or pass --all, not both").WithField("task-id")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	taskIDs := args
	if cleanAll {
		paths, err := a.workspaces.List(ctx)
		if err != nil {
			return err
		}
		taskIDs = make([]string, 0, len(paths))
		for _, p := range paths {
			taskIDs = append(taskIDs, filepath.Base(p))
		}
	}

	out := cmd.OutOrStdout()
	if len(taskIDs) == 0 {
		fmt.Fprintln(out, "No task worktrees to remove.")
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render("Task worktrees:"))
	for _, id := range taskIDs {
		ws, err := a.workspace(id)
		if err != nil {
			return err
		}
		status := a.workspaces.Status(ctx, ws)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(out, "  %-20s %-16s %s\n", id, status, mutedStyle.Render(ws.Path))
	}

	if cleanDryRun {
		fmt.Fprintln(out, "\nDry run: nothing removed.")
		return nil
	}

	if !cleanForce {
		fmt.Fprintf(out, "\nRemove %s and their branches? [y/N] ", util.Plural(len(taskIDs), "task"))
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var failed int
	for _, id := range taskIDs {
		if held, ok := a.workspaces.Locked(id); ok {
			failed++
			fmt.Fprintf(out, "  %s %s: running as PID %d\n", errorStyle.Render("✗"), id, held.PID)
			continue
		}
		if err := a.workspaces.Remove(ctx, id); err != nil {
			failed++
			fmt.Fprintf(out, "  %s %s: %v\n", errorStyle.Render("✗"), id, err)
			continue
		}
		fmt.Fprintf(out, "  %s %s\n", successStyle.Render("✓"), id)
	}
	if failed > 0 {
		return fmt.Errorf("failed to remove %d of %s", failed, util.Plural(len(taskIDs), "task"))
	}
	return nil
}
