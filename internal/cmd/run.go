package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/history"
	"github.com/Iron-Ham/autobuild/internal/metrics"
	"github.com/Iron-Ham/autobuild/internal/task"
)

var runCmd = &cobra.Command{
	Use:   "run <task-file>",
	Short: "Run one task through the Player/Coach loop",
	Long: `Run loads a task from a YAML or TOML file, creates (or resumes) its
worktree and alternates Player turns with Coach validation until the Coach
approves, the turn budget is spent, or the loop stalls.

The worktree is always preserved. Approved work is marked for review on
its branch.

Exit status is 0 on approval, 2 when the task was not approved and 1 on
errors.

Examples:
  autobuild run tasks/health-endpoint.yaml
  autobuild run task.toml --max-turns 3 --skip-pre-loop
  autobuild run task.yaml --stream --json > result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runMaxTurns    int
	runSkipPreLoop bool
	runStream      bool
	runJSON        bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runMaxTurns, "max-turns", 0, "Override the task's turn budget")
	runCmd.Flags().BoolVar(&runSkipPreLoop, "skip-pre-loop", false, "Skip the design gate before the first turn")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Stream the Player's output to stderr")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	t, err := task.Load(args[0])
	if err != nil {
		return err
	}
	if runMaxTurns < 0 {
		return errors.NewValidationError("--max-turns must be positive").WithField("max-turns")
	}
	if runMaxTurns > 0 {
		t.MaxTurns = runMaxTurns
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	unlock, err := a.lockTasks(t.ID)
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

	var transcript io.Writer
	if runStream {
		transcript = cmd.ErrOrStderr()
	}
	eng, err := a.newEngine(engineOptions{skipPreLoop: runSkipPreLoop, transcript: transcript})
	if err != nil {
		return err
	}
	if !runJSON && !runStream {
		a.bus.SubscribeAll(progressPrinter(cmd.ErrOrStderr()))
	}

	res, err := eng.Orchestrate(ctx, t)
	if err != nil {
		return err
	}
	a.recordHistory(ctx, res)

	out := cmd.OutOrStdout()
	if runJSON {
		if err := writeJSON(out, res.RunSummary()); err != nil {
			return err
		}
	} else {
		renderResult(out, res)
	}
	if !res.Success {
		return &notApprovedError{count: 1, total: 1}
	}
	return nil
}

// serveMetrics registers the engine collectors on the bus and, when an
// address is configured, serves them until ctx ends. The returned func
// waits for the server to stop.
func (a *app) serveMetrics(ctx context.Context) (func(), error) {
	if a.cfg.Metrics.Listen == "" {
		return func() {}, nil
	}
	reg := prometheus.NewRegistry()
	unsubscribe := metrics.New(reg).Subscribe(a.bus)

	srv, err := metrics.Listen(a.cfg.Metrics.Listen, reg, a.logger)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(srvCtx); err != nil {
			a.logger.Warn("metrics endpoint stopped", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		unsubscribe()
	}, nil
}

// recordHistory stores finished runs. Failures are logged, never returned:
// the workspace and summary.json still hold the outcome.
func (a *app) recordHistory(ctx context.Context, results ...*engine.Result) {
	if !a.cfg.History.Enabled {
		return
	}
	store, err := history.Open(a.cfg.History.ResolvePath())
	if err != nil {
		a.logger.Warn("run history unavailable", "error", err)
		return
	}
	defer func() { _ = store.Close() }()

	ctx = context.WithoutCancel(ctx)
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := store.RecordResult(ctx, r); err != nil {
			a.logger.Warn("failed to record run", "run_id", r.RunID, "error", err)
		}
	}
}
