// Package wave runs several tasks at once, each in its own workspace with
// its own engine run, bounded by a parallelism limit.
package wave

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
	"github.com/Iron-Ham/autobuild/internal/task"
)

// DefaultParallelism is used when the configured limit is not positive.
const DefaultParallelism = 2

// Orchestrator runs one task to completion.
type Orchestrator interface {
	Orchestrate(ctx context.Context, t *task.Task) (*engine.Result, error)
}

// Outcome is the result of one task in a wave. Err is set only when the
// engine could not produce a result at all.
type Outcome struct {
	Task   *task.Task
	Result *engine.Result
	Err    error
}

// Succeeded reports whether the task was approved.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil && o.Result.Success
}

// Runner executes waves of tasks.
type Runner struct {
	orchestrator Orchestrator
	parallelism  int
	logger       *logging.Logger
}

// New creates a Runner. parallelism <= 0 selects DefaultParallelism.
func New(o Orchestrator, parallelism int, logger *logging.Logger) *Runner {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		orchestrator: o,
		parallelism:  parallelism,
		logger:       logger.With("component", "wave"),
	}
}

// Run orchestrates every task and returns outcomes in input order. One
// task's failure never cancels the others. Tasks must have distinct IDs
// because each ID owns a workspace.
func (r *Runner) Run(ctx context.Context, tasks []*task.Task) ([]Outcome, error) {
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t == nil {
			return nil, errors.NewValidationError(fmt.Sprintf("task %d is nil", i)).WithField("tasks")
		}
		if seen[t.ID] {
			return nil, errors.NewValidationError("duplicate task id in wave").WithField("id").WithValue(t.ID)
		}
		seen[t.ID] = true
	}

	outcomes := make([]Outcome, len(tasks))
	start := time.Now()
	r.logger.Info("wave started", "tasks", len(tasks), "parallelism", r.parallelism)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.parallelism)
	for i, t := range tasks {
		p.Go(func(ctx context.Context) error {
			outcomes[i] = r.runOne(ctx, t)
			return nil
		})
	}
	_ = p.Wait()

	approved := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			approved++
		}
	}
	r.logger.Info("wave finished", "tasks", len(tasks), "approved", approved, "duration", time.Since(start))
	return outcomes, nil
}

func (r *Runner) runOne(ctx context.Context, t *task.Task) (out Outcome) {
	out.Task = t
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("task panicked", "task_id", t.ID, "panic", p)
			out.Result, out.Err = nil, fmt.Errorf("task %s panicked: %v", t.ID, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Err = errors.Wrapf(err, "task %s not started", t.ID)
		return out
	}
	res, err := r.orchestrator.Orchestrate(ctx, t)
	out.Result, out.Err = res, err
	if err != nil {
		r.logger.Warn("task failed to run", "task_id", t.ID, "error", err)
	}
	return out
}
