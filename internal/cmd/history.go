package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/config"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `History lists finished runs from the run history database, newest first.

Examples:
  autobuild history
  autobuild history --task TASK-42 --limit 5
  autobuild history --decision stalled
  autobuild history show 3f2c9a7e-...`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its turns",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var (
	historyTask     string
	historyDecision string
	historyLimit    int
	historyJSON     bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print as JSON")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Only runs of this task")
	historyCmd.Flags().StringVar(&historyDecision, "decision", "", "Only runs with this final decision")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to show (0 for all)")
}

// openHistory opens the configured history database. It needs no
// repository, so it does not go through newApp.
func openHistory() (*history.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.History.Enabled {
		return nil, errors.NewValidationError("run history is disabled (history.enabled)").WithField("history.enabled")
	}
	return history.Open(cfg.History.ResolvePath())
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runs, err := store.List(cmd.Context(), history.ListOptions{
		TaskID:        historyTask,
		FinalDecision: historyDecision,
		Limit:         historyLimit,
	})
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	counts, err := store.CountByDecision(cmd.Context())
	if err != nil {
		return err
	}
	renderRuns(cmd.OutOrStdout(), runs, counts)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, turns, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(cmd.OutOrStdout(), struct {
			Run   any `json:"run"`
			Turns any `json:"turns"`
		}{run, turns})
	}
	renderRun(cmd.OutOrStdout(), run, turns)
	return nil
}
