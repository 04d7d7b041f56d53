package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/task"
	"github.com/Iron-Ham/autobuild/internal/wave"
)

var waveCmd = &cobra.Command{
	Use:   "wave <task-file>...",
	Short: "Run several tasks concurrently",
	Long: `Wave runs independent tasks at the same time, each in its own worktree
with its own Player/Coach loop. At most --parallelism tasks run at once
(default: wave.parallelism from the configuration).

One task failing never stops the others. Results are printed in the order
the task files were given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWave,
}

var (
	waveParallelism int
	waveSkipPreLoop bool
	waveJSON        bool
)

func init() {
	rootCmd.AddCommand(waveCmd)
	waveCmd.Flags().IntVarP(&waveParallelism, "parallelism", "p", 0, "Maximum tasks running at once")
	waveCmd.Flags().BoolVar(&waveSkipPreLoop, "skip-pre-loop", false, "Skip the design gate for every task")
	waveCmd.Flags().BoolVar(&waveJSON, "json", false, "Print run summaries as JSON")
}

// waveEntry is the JSON form of one wave outcome.
type waveEntry struct {
	TaskID string               `json:"task_id"`
	Run    *artifact.RunSummary `json:"run,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func runWave(cmd *cobra.Command, args []string) error {
	tasks, err := task.LoadAll(args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	unlock, err := a.lockTasks(ids...)
	if err != nil {
		return err
	}
	defer unlock()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopMetrics, err := a.serveMetrics(ctx)
	if err != nil {
		return err
	}
	defer stopMetrics()

	eng, err := a.newEngine(engineOptions{skipPreLoop: waveSkipPreLoop})
	if err != nil {
		return err
	}
	if !waveJSON {
		a.bus.SubscribeAll(progressPrinter(cmd.ErrOrStderr()))
	}

	parallelism := waveParallelism
	if parallelism <= 0 {
		parallelism = a.cfg.Wave.Parallelism
	}
	outcomes, err := wave.New(eng, parallelism, a.logger).Run(ctx, tasks)
	if err != nil {
		return err
	}

	results := make([]*engine.Result, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		results = append(results, o.Result)
		if !o.Succeeded() {
			failed++
		}
	}
	a.recordHistory(ctx, results...)

	out := cmd.OutOrStdout()
	if waveJSON {
		entries := make([]waveEntry, len(outcomes))
		for i, o := range outcomes {
			entries[i].TaskID = o.Task.ID
			if o.Result != nil {
				s := o.Result.RunSummary()
				entries[i].Run = &s
			}
			if o.Err != nil {
				entries[i].Error = o.Err.Error()
			}
		}
		if err := writeJSON(out, entries); err != nil {
			return err
		}
	} else {
		renderWave(out, outcomes)
	}

	if failed > 0 {
		return &notApprovedError{count: failed, total: len(outcomes)}
	}
	return nil
}
