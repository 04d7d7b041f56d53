// Package engine runs the adversarial Player/Coach loop for one task.
//
// A run moves through Setup, a bounded sequence of turns, and Finalize.
// Each turn invokes the Player, reads (or reconstructs) its report, scans
// the workspace, asks the Coach for a verdict, checkpoints the workspace
// with the Coach's test outcome, and then checks for approval, context
// pollution and stalls. The run ends with
// exactly one Terminal decision and the workspace is always preserved for
// a human; nothing is merged automatically.
//
// Orchestrate only returns an error when the environment prevents the run
// from starting. Actor failures, malformed reports and failing tests are
// recorded in the turn history instead.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/coach"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/event"
	"github.com/Iron-Ham/autobuild/internal/executor"
	"github.com/Iron-Ham/autobuild/internal/logging"
	"github.com/Iron-Ham/autobuild/internal/prompt"
	"github.com/Iron-Ham/autobuild/internal/task"
	"github.com/Iron-Ham/autobuild/internal/worktree"
)

// DefaultMaxTurns is the budget for tasks that state neither a budget nor a
// complexity.
const DefaultMaxTurns = 5

// Options tunes the loop.
type Options struct {
	DefaultMaxTurns int
	StallThreshold  int
	// PerspectiveResetTurns lists turns whose prompt omits prior feedback.
	PerspectiveResetTurns []int
	// PreLoop runs the design gate before the first turn.
	PreLoop bool

	DesignTimeout    time.Duration
	ImplementTimeout time.Duration
	ValidateTimeout  time.Duration

	PlayerPermission string
	PlayerTools      []string
	DesignPermission string
	DesignTools      []string

	// ArchitectureThreshold is quoted in the design prompt.
	ArchitectureThreshold int
}

// Config wires an Engine to its collaborators. Collaborators that depend on
// the task workspace are built through the New* factories once the
// workspace has been acquired.
type Config struct {
	Workspaces WorkspaceProvider
	Executor   Executor
	Prompts    *prompt.Builder

	NewStore        func(ws *worktree.Workspace) *artifact.Store
	NewValidator    func(ws *worktree.Workspace, store *artifact.Store) Validator
	NewCheckpointer func(ws *worktree.Workspace, store *artifact.Store) Checkpointer
	// NewDesignGate and NewScanner are optional.
	NewDesignGate func(store *artifact.Store) DesignGate
	NewScanner    func(store *artifact.Store) Scanner

	// TestRunner and TestCommand back the test run of synthetic reports.
	TestRunner  coach.Runner
	TestCommand string

	Options Options
	Bus     *event.Bus
	Logger  *logging.Logger
	Now     func() time.Time
}

// Engine orchestrates tasks. It holds no per-run state, so one Engine may
// run several tasks concurrently on separate workspaces.
type Engine struct {
	cfg     Config
	opts    Options
	prompts *prompt.Builder
	logger  *logging.Logger
	now     func() time.Time
}

// New validates cfg and creates an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Workspaces == nil:
		return nil, errors.NewValidationError("engine needs a workspace provider").WithField("Workspaces")
	case cfg.Executor == nil:
		return nil, errors.NewValidationError("engine needs an executor").WithField("Executor")
	case cfg.NewStore == nil:
		return nil, errors.NewValidationError("engine needs an artifact store factory").WithField("NewStore")
	case cfg.NewValidator == nil:
		return nil, errors.NewValidationError("engine needs a validator factory").WithField("NewValidator")
	case cfg.NewCheckpointer == nil:
		return nil, errors.NewValidationError("engine needs a checkpointer factory").WithField("NewCheckpointer")
	}

	opts := cfg.Options
	if opts.DefaultMaxTurns <= 0 {
		opts.DefaultMaxTurns = DefaultMaxTurns
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	if opts.PreLoop && cfg.NewDesignGate == nil {
		return nil, errors.NewValidationError("pre-loop enabled without a design gate").WithField("NewDesignGate")
	}
	if cfg.TestRunner == nil {
		cfg.TestRunner = coach.ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	prompts := cfg.Prompts
	if prompts == nil {
		prompts = prompt.NewBuilder(nil, "")
	}

	return &Engine{
		cfg:     cfg,
		opts:    opts,
		prompts: prompts,
		logger:  cfg.Logger.With("component", "engine"),
		now:     cfg.Now,
	}, nil
}

// run is the state of one Orchestrate call.
type run struct {
	id          string
	task        *task.Task
	ws          *worktree.Workspace
	store       *artifact.Store
	artifactDir string
	validator   Validator
	checkpoints Checkpointer
	scanner     Scanner
	stall       *StallDetector
	logger      *logging.Logger

	maxTurns    int
	turns       []Turn
	decisions   []artifact.Decision
	rollbacks   int
	terminal    Terminal
	reason      string
	conditional bool
	startedAt   time.Time
}

func (r *run) finish(terminal Terminal, reason string) {
	if r.terminal != "" {
		return
	}
	r.terminal = terminal
	r.reason = reason
}

// Orchestrate runs t to a terminal decision.
func (e *Engine) Orchestrate(ctx context.Context, t *task.Task) (*Result, error) {
	if t == nil {
		return nil, errors.NewValidationError("no task to orchestrate")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	r, err := e.setup(ctx, t)
	if err != nil {
		return nil, err
	}

	if e.opts.PreLoop {
		e.preLoop(ctx, r)
	}
	if r.terminal == "" {
		e.loop(ctx, r)
	}
	return e.finalize(ctx, r), nil
}

func (e *Engine) setup(ctx context.Context, t *task.Task) (*run, error) {
	runID := uuid.NewString()
	logger := e.logger.WithTask(t.ID).With("run_id", runID)

	ws, err := e.cfg.Workspaces.Acquire(ctx, t.ID)
	if err != nil {
		logger.Error("workspace unavailable", "error", err)
		if errors.IsEnvironmentFailure(err) {
			return nil, err
		}
		return nil, errors.NewEnvironmentError("workspace", fmt.Errorf("%w: %w", errors.ErrWorkspaceUnavailable, err))
	}

	store := e.cfg.NewStore(ws)
	if err := store.EnsureDirs(t.ID); err != nil {
		logger.Error("artifact directory unavailable", "error", err)
		if errors.IsEnvironmentFailure(err) {
			return nil, err
		}
		return nil, errors.NewEnvironmentError("artifact directory", err).WithPath(store.TaskDir(t.ID))
	}
	if err := e.archivePrevious(store, t.ID, logger); err != nil {
		logger.Error("could not archive previous run", "error", err)
		return nil, err
	}

	r := &run{
		id:          runID,
		task:        t,
		ws:          ws,
		store:       store,
		artifactDir: relativeTo(ws.Path, store.BaseDir()),
		validator:   e.cfg.NewValidator(ws, store),
		checkpoints: e.cfg.NewCheckpointer(ws, store),
		stall:       NewStallDetector(e.opts.StallThreshold),
		logger:      logger,
		maxTurns:    t.Budget(e.opts.DefaultMaxTurns),
		startedAt:   e.now(),
	}
	if e.cfg.NewScanner != nil {
		r.scanner = e.cfg.NewScanner(store)
	}
	if err := r.checkpoints.Load(); err != nil {
		logger.Warn("ignoring unreadable checkpoint history", "error", err)
	}

	logger.Info("run started", "workspace", ws.Path, "branch", ws.Branch, "max_turns", r.maxTurns, "resumed", ws.Resumed)
	e.publish(event.NewRunStartedEvent(runID, t.ID, ws.Path, r.maxTurns))
	return r, nil
}

// archivePrevious moves artifacts left by an earlier run on the same
// workspace out of the task directory. Turn numbers restart at 1, so stale
// reports and checkpoint history would otherwise be read as this run's.
func (e *Engine) archivePrevious(store *artifact.Store, taskID string, logger *logging.Logger) error {
	label := "unfinished-" + e.now().UTC().Format("20060102T150405Z")
	var prev artifact.RunSummary
	if err := store.Read(artifact.KindSummary, taskID, 0, &prev); err == nil && prev.RunID != "" && !strings.ContainsAny(prev.RunID, `/\.`) {
		label = prev.RunID
	}
	path, err := store.Archive(taskID, label)
	if err != nil {
		return err
	}
	if path != "" {
		logger.Info("archived artifacts of previous run", "path", path)
	}
	return nil
}

// preLoop asks the Player for a design and lets the design gate judge it.
// A passing design may replace a derived turn budget; an explicit task
// budget always stands.
func (e *Engine) preLoop(ctx context.Context, r *run) {
	logger := r.logger.WithPhase("design")

	text, err := e.prompts.Design(prompt.DesignInput{
		Task:                  r.task,
		DesignPath:            relativeTo(r.ws.Path, r.store.Path(artifact.KindDesignResults, r.task.ID, 0)),
		ArchitectureThreshold: e.opts.ArchitectureThreshold,
	})
	if err != nil {
		r.finish(TerminalError, fmt.Sprintf("design prompt: %v", err))
		return
	}
	if _, err := e.cfg.Executor.Invoke(ctx, executor.Invocation{
		Role:         executor.RoleDesign,
		Prompt:       text,
		Permission:   e.opts.DesignPermission,
		AllowedTools: e.opts.DesignTools,
		Timeout:      e.opts.DesignTimeout,
		Dir:          r.ws.Path,
	}); err != nil {
		logger.Warn("design invocation failed", "error", err)
	}
	if err := ctx.Err(); err != nil {
		r.finish(TerminalError, fmt.Sprintf("run canceled during design: %v", err))
		return
	}

	verdict, err := e.cfg.NewDesignGate(r.store).Evaluate(r.task.ID)
	if err != nil {
		logger.Warn("design gate blocked the task", "error", err)
		r.finish(TerminalPreLoopBlocked, err.Error())
		return
	}
	if r.task.MaxTurns == 0 && verdict.MaxTurns > 0 && verdict.MaxTurns != r.maxTurns {
		logger.Info("turn budget set by design", "from", r.maxTurns, "to", verdict.MaxTurns, "complexity", verdict.Results.Complexity)
		r.maxTurns = verdict.MaxTurns
	}
}

func (e *Engine) loop(ctx context.Context, r *run) {
	for n := 1; n <= r.maxTurns; n++ {
		if err := ctx.Err(); err != nil {
			r.finish(TerminalError, fmt.Sprintf("run canceled before turn %d: %v", n, err))
			return
		}
		if e.turn(ctx, r, n) {
			return
		}
	}
	r.finish(TerminalMaxTurnsExceeded, fmt.Sprintf("max turns (%d) exhausted without approval", r.maxTurns))
}

// turn plays turn n and reports whether the run reached a terminal state.
func (e *Engine) turn(ctx context.Context, r *run, n int) bool {
	logger := r.logger.WithTurn(n)
	r.turns = append(r.turns, Turn{Number: n, Phase: PhasePlayer, Status: StatusInProgress, StartedAt: e.now()})
	cur := &r.turns[len(r.turns)-1]
	e.publish(event.NewTurnStartedEvent(r.id, r.task.ID, n))
	logger.Info("turn started", "max_turns", r.maxTurns)

	playerErr := e.invokePlayer(ctx, r, n)
	if playerErr != nil {
		cur.Error = playerErr.Error()
		logger.Warn("player invocation failed", "error", playerErr)
	}
	if err := ctx.Err(); err != nil {
		cur.Status = StatusError
		r.finish(TerminalError, fmt.Sprintf("run canceled during turn %d: %v", n, err))
		e.closeTurn(r, cur)
		return true
	}

	cur.Phase = PhaseReport
	report, err := e.readReport(r, n)
	if err != nil {
		if errors.Is(err, errors.ErrArtifactInvalid) {
			// The Player wrote a report that cannot be trusted.
			cur.Error = joinErrors(cur.Error, err.Error())
			if path, rerr := r.store.Reject(artifact.KindPlayerReport, r.task.ID, n); rerr != nil {
				logger.Warn("could not set invalid report aside", "error", rerr)
			} else {
				logger.Warn("invalid player report set aside", "path", path)
			}
		}
		logger.Warn("player report unusable, reconstructing", "error", err)
		report = e.synthesize(ctx, r, n, playerErr, logger)
	}
	cur.Report = report

	if r.scanner != nil {
		if review, err := r.scanner.Scan(ctx, r.ws.Path, r.task.ID, n, report.TouchedFiles()); err != nil {
			logger.Warn("security scan failed", "error", err)
		} else if len(review.Findings) > 0 {
			logger.Info("security findings", "critical", review.CriticalCount, "high", review.HighCount)
		}
	}

	cur.Phase = PhaseCoach
	vctx, cancel := withTimeout(ctx, e.opts.ValidateTimeout)
	decision, err := r.validator.Validate(vctx, r.task.ID, n, r.task, r.decisions)
	cancel()
	if err != nil {
		cur.Status = StatusError
		cur.Error = joinErrors(cur.Error, err.Error())
		if ctx.Err() != nil || !errors.IsTurnRecoverable(err) || errors.IsEnvironmentFailure(err) {
			logger.Error("coach validation failed", "error", err)
			r.finish(TerminalError, fmt.Sprintf("coach validation failed on turn %d: %v", n, err))
			e.closeTurn(r, cur)
			return true
		}
		logger.Warn("coach validation failed, counting turn as failed", "error", err, "retryable", errors.IsRetryable(err))
	}

	// The checkpoint records the Coach's own test outcome, never the
	// Player's claim. A turn without a verdict checkpoints as failing.
	cur.Phase = PhaseCheckpoint
	testsPassed, testCount := false, 0
	if decision != nil {
		testsPassed, testCount = decision.TestsPassed(), decision.TestCount()
	}
	if cp, err := r.checkpoints.CreateCheckpoint(ctx, n, testsPassed, testCount); err != nil {
		logger.Warn("checkpoint skipped", "error", err)
	} else {
		cur.Checkpoint = &cp
		e.publish(event.NewCheckpointCreatedEvent(r.id, r.task.ID, n, cp.Revision, cp.TestsPassed))
	}

	cur.Phase = PhaseDecision
	if decision != nil {
		cur.Decision = decision
		r.decisions = append(r.decisions, decision)
		switch {
		case decision.Verdict() == artifact.VerdictApprove:
			cur.Status = StatusSuccess
		case cur.Error != "":
			cur.Status = StatusError
		default:
			cur.Status = StatusFeedback
		}
	}

	done := e.applyDecision(ctx, r, n, decision, logger)
	e.closeTurn(r, cur)
	return done
}

func (e *Engine) invokePlayer(ctx context.Context, r *run, n int) error {
	in := prompt.PlayerInput{
		Task:        r.task,
		Turn:        n,
		MaxTurns:    r.maxTurns,
		ReportPath:  relativeTo(r.ws.Path, r.store.Path(artifact.KindPlayerReport, r.task.ID, n)),
		ResultsPath: relativeTo(r.ws.Path, r.store.Path(artifact.KindTaskWorkResults, r.task.ID, 0)),
	}
	if k := len(r.decisions); k > 0 {
		if fb, ok := r.decisions[k-1].(*artifact.Feedback); ok {
			in.Feedback = fb
			in.FeedbackTurn = n - 1
		}
	}
	if n > 1 && slices.Contains(e.opts.PerspectiveResetTurns, n) {
		in.PerspectiveReset = true
		in.Feedback = nil
		r.logger.WithTurn(n).Info("perspective reset, withholding feedback")
	}

	text, err := e.prompts.Player(in)
	if err != nil {
		return err
	}
	_, err = e.cfg.Executor.Invoke(ctx, executor.Invocation{
		Role:         executor.RolePlayer,
		Turn:         n,
		Prompt:       text,
		Permission:   e.opts.PlayerPermission,
		AllowedTools: e.opts.PlayerTools,
		Timeout:      e.opts.ImplementTimeout,
		Dir:          r.ws.Path,
	})
	return err
}

func (e *Engine) readReport(r *run, n int) (*artifact.PlayerReport, error) {
	var report artifact.PlayerReport
	if err := r.store.Read(artifact.KindPlayerReport, r.task.ID, n, &report); err != nil {
		return nil, err
	}
	if err := report.Validate(r.task.ID, n); err != nil {
		return nil, errors.NewArtifactError(errors.ArtifactInvalid, r.store.Path(artifact.KindPlayerReport, r.task.ID, n), err).
			WithTask(r.task.ID, n)
	}
	report.TaskID, report.Turn = r.task.ID, n
	return &report, nil
}

// applyDecision checks approval, then context pollution, then stalls. A nil
// decision, from a Coach failure absorbed into the turn, skips approval and
// stall checks.
func (e *Engine) applyDecision(ctx context.Context, r *run, n int, decision artifact.Decision, logger *logging.Logger) bool {
	if a, ok := decision.(*artifact.Approval); ok {
		r.conditional = a.Conditional()
		r.finish(TerminalApproved, "")
		logger.Info("approved", "conditional", r.conditional)
		return true
	}

	if r.checkpoints.ShouldRollback() {
		target, ok := r.checkpoints.FindLastPassingCheckpoint()
		if !ok {
			reason := "consecutive failing checkpoints and no passing checkpoint to roll back to"
			e.stalled(r, n, event.StallNoPassingCheckpoint, reason)
			return true
		}
		if cp, err := r.checkpoints.RollbackTo(ctx, target.Turn); err != nil {
			logger.Warn("rollback failed", "target_turn", target.Turn, "error", err)
		} else {
			r.rollbacks++
			r.discardCheckpointsAfter(cp.Turn)
			logger.Info("rolled back", "to_turn", cp.Turn, "revision", cp.ShortRevision())
			e.publish(event.NewRolledBackEvent(r.id, r.task.ID, n, cp.Turn, cp.Revision))
		}
	}

	if decision == nil {
		return false
	}
	if stalled, reason := r.stall.Observe(decision); stalled {
		e.stalled(r, n, event.StallRepeatedFeedback, reason)
		return true
	}
	return false
}

// discardCheckpointsAfter detaches the checkpoints a rollback removed from
// history so the turn record matches the checkpointer.
func (r *run) discardCheckpointsAfter(turn int) {
	for i := range r.turns {
		if cp := r.turns[i].Checkpoint; cp != nil && cp.Turn > turn {
			r.turns[i].Checkpoint = nil
			r.turns[i].RolledBack = true
		}
	}
}

func (e *Engine) stalled(r *run, n int, trigger, reason string) {
	r.logger.WithTurn(n).Warn("loop stalled", "trigger", trigger, "reason", reason)
	r.finish(TerminalStalled, reason)
	e.publish(event.NewStallDetectedEvent(r.id, r.task.ID, n, trigger, reason))
}

func (e *Engine) closeTurn(r *run, cur *Turn) {
	cur.EndedAt = e.now()
	met := 0
	if cur.Decision != nil {
		met = cur.Decision.CriteriaMet()
	}
	r.logger.WithTurn(cur.Number).Info("turn completed", "status", cur.Status, "decision", cur.Verdict(), "criteria_met", met)
	e.publish(event.NewTurnCompletedEvent(r.id, r.task.ID, cur.Number, string(cur.Status), cur.Verdict(),
		met, cur.Synthetic(), cur.EndedAt.Sub(cur.StartedAt)))
}

// finalize preserves the workspace, writes summary.json and builds the
// result. It runs even when ctx is canceled.
func (e *Engine) finalize(ctx context.Context, r *run) *Result {
	ctx = context.WithoutCancel(ctx)

	if err := e.cfg.Workspaces.Preserve(ctx, r.ws); err != nil {
		r.logger.Warn("failed to preserve workspace", "error", err)
	}
	if r.terminal == TerminalApproved {
		if err := e.cfg.Workspaces.MarkForReview(ctx, r.ws); err != nil {
			r.logger.Warn("failed to mark workspace for review", "error", err)
		}
	}

	result := &Result{
		TaskID:        r.task.ID,
		RunID:         r.id,
		Success:       r.terminal == TerminalApproved,
		TotalTurns:    len(r.turns),
		MaxTurns:      r.maxTurns,
		FinalDecision: r.terminal,
		TurnHistory:   r.turns,
		Workspace:     r.ws,
		Error:         r.reason,
		RollbackCount: r.rollbacks,
		Conditional:   r.conditional,
		StartedAt:     r.startedAt,
		FinishedAt:    e.now(),
	}
	result.Summary = Summarize(result)

	if err := r.store.Write(artifact.KindSummary, r.task.ID, 0, result.RunSummary()); err != nil {
		r.logger.Warn("failed to write summary", "error", err)
	}
	r.logger.Info("run finished",
		"final_decision", result.FinalDecision,
		"turns", result.TotalTurns,
		"rollbacks", result.RollbackCount,
	)
	e.publish(event.NewRunFinishedEvent(r.id, r.task.ID, result.Success, string(result.FinalDecision),
		result.TotalTurns, result.RollbackCount, result.FinishedAt.Sub(result.StartedAt)))
	return result
}

func (e *Engine) publish(ev event.Event) {
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(ev)
	}
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// relativeTo returns target relative to base in slash form, or target
// unchanged when it is not below base.
func relativeTo(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return target
	}
	return filepath.ToSlash(rel)
}

func joinErrors(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
