package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/config"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the JSON debug log written when logging.dir is set.

Examples:
  # Show the last 50 entries
  autobuild logs

  # Everything the Coach logged for one task's third turn
  autobuild logs --task TASK-42 --turn 3 -n 0

  # Warnings and errors from the last hour
  autobuild logs --level warn --since 1h

  # Entries mentioning rollbacks
  autobuild logs --grep rollback`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsDir   string
	logsTail  int
	logsLevel string
	logsSince time.Duration
	logsGrep  string
	logsTask  string
	logsTurn  int
	logsPhase string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only entries for this task")
	logsCmd.Flags().IntVar(&logsTurn, "turn", 0, "Only entries for this turn")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries for this phase (player, report, checkpoint, coach, decision)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		dir = config.Get().Logging.Dir
	}
	if dir == "" {
		return errors.NewValidationError("no log directory: set logging.dir or pass --dir").WithField("dir")
	}

	entries, err := logging.ReadEntries(dir)
	if err != nil {
		return err
	}

	filter := logging.Filter{
		Level:    logsLevel,
		TaskID:   logsTask,
		Turn:     logsTurn,
		Phase:    logsPhase,
		Contains: logsGrep,
	}
	if logsSince > 0 {
		filter.Since = time.Now().Add(-logsSince)
	}
	entries = filter.Apply(entries)

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	return logging.WriteText(cmd.OutOrStdout(), entries)
}
