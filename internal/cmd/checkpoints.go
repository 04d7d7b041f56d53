package cmd

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect or restore turn checkpoints",
	Long: `Every turn commits the task worktree as a checkpoint. The history lives in
checkpoints.json in the task's artifact directory.`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <task-id>",
	Short: "List the checkpoints of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsRollbackCmd = &cobra.Command{
	Use:   "rollback <task-id> <turn>",
	Short: "Reset a task worktree to a checkpoint",
	Long: `Rollback hard-resets the task worktree to the commit recorded for the
given turn and forgets every later checkpoint. Uncommitted changes in the
worktree are lost.`,
	Args: cobra.ExactArgs(2),
	RunE: runCheckpointsRollback,
}

var (
	checkpointsJSON  bool
	checkpointsForce bool
)

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsRollbackCmd)

	checkpointsListCmd.Flags().BoolVar(&checkpointsJSON, "json", false, "Print checkpoints as JSON")
	checkpointsRollbackCmd.Flags().BoolVarP(&checkpointsForce, "force", "f", false, "Skip confirmation prompt")
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.workspace(args[0])
	if err != nil {
		return err
	}
	m := a.checkpoints(ws, a.store(ws))
	if err := m.Load(); err != nil {
		return err
	}

	if checkpointsJSON {
		return writeJSON(cmd.OutOrStdout(), m.Checkpoints())
	}
	renderCheckpoints(cmd.OutOrStdout(), m.Checkpoints())
	return nil
}

func runCheckpointsRollback(cmd *cobra.Command, args []string) error {
	turn, err := strconv.Atoi(args[1])
	if err != nil || turn < 1 {
		return errors.NewValidationError("turn must be a positive integer").WithField("turn").WithValue(args[1])
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.workspace(args[0])
	if err != nil {
		return err
	}
	unlock, err := a.lockTasks(ws.TaskID)
	if err != nil {
		return err
	}
	defer unlock()

	m := a.checkpoints(ws, a.store(ws))
	if err := m.Load(); err != nil {
		return err
	}
	cp, ok := m.Get(turn)
	if !ok {
		return errors.NewNotFoundError("checkpoint", fmt.Sprintf("%s turn %d", args[0], turn))
	}

	out := cmd.OutOrStdout()
	if !checkpointsForce {
		fmt.Fprintf(out, "Reset %s to turn %d (%s)? Later checkpoints and uncommitted changes are lost. [y/N] ",
			ws.Path, turn, cp.ShortRevision())
		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Rollback cancelled.")
			return nil
		}
	}

	if _, err := m.RollbackTo(cmd.Context(), turn); err != nil {
		return err
	}
	fmt.Fprintf(out, "Rolled back %s to turn %d (%s)\n", args[0], turn, cp.ShortRevision())
	return nil
}
