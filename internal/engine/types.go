package engine

import (
	"context"
	"time"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/checkpoint"
	"github.com/Iron-Ham/autobuild/internal/coach"
	"github.com/Iron-Ham/autobuild/internal/executor"
	"github.com/Iron-Ham/autobuild/internal/task"
	"github.com/Iron-Ham/autobuild/internal/worktree"
)

// Status is the state of one turn.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFeedback   Status = "feedback"
	StatusError      Status = "error"
)

// Terminal is the final decision of a run. Once set it never changes.
type Terminal string

const (
	TerminalApproved         Terminal = "approved"
	TerminalMaxTurnsExceeded Terminal = "max_turns_exceeded"
	TerminalPreLoopBlocked   Terminal = "pre_loop_blocked"
	TerminalError            Terminal = "error"
	TerminalStalled          Terminal = "stalled"
)

// Phases a turn passes through, in order.
const (
	PhasePlayer     = "player"
	PhaseReport     = "report"
	PhaseCoach      = "coach"
	PhaseCheckpoint = "checkpoint"
	PhaseDecision   = "decision"
)

// Turn is one Player/Coach exchange. Numbers start at 1 and are never
// reused, even after a rollback.
type Turn struct {
	Number    int
	Phase     string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Error     string

	Report     *artifact.PlayerReport
	Decision   artifact.Decision
	Checkpoint *checkpoint.Checkpoint
	// RolledBack marks a turn whose checkpoint a later rollback discarded.
	RolledBack bool
}

// Synthetic reports whether the turn's Player report was reconstructed.
func (t Turn) Synthetic() bool {
	return t.Report != nil && t.Report.Synthetic
}

// Verdict returns the Coach verdict for the turn, or "" if there was none.
func (t Turn) Verdict() string {
	if t.Decision == nil {
		return ""
	}
	return t.Decision.Verdict()
}

// Result is the outcome of one Orchestrate call.
type Result struct {
	TaskID        string
	RunID         string
	Success       bool
	TotalTurns    int
	MaxTurns      int
	FinalDecision Terminal
	TurnHistory   []Turn
	Workspace     *worktree.Workspace
	// Error describes why the run did not succeed. Empty on approval.
	Error         string
	Summary       string
	RollbackCount int
	// Conditional marks an approval granted without the declared
	// infrastructure.
	Conditional bool
	StartedAt   time.Time
	FinishedAt  time.Time
}

// LastDecision returns the newest Coach decision, or nil.
func (r *Result) LastDecision() artifact.Decision {
	for i := len(r.TurnHistory) - 1; i >= 0; i-- {
		if d := r.TurnHistory[i].Decision; d != nil {
			return d
		}
	}
	return nil
}

// Executor launches the Player.
type Executor interface {
	Invoke(ctx context.Context, inv executor.Invocation) (string, error)
}

// WorkspaceProvider owns the isolated workspace of each task.
type WorkspaceProvider interface {
	Acquire(ctx context.Context, taskID string) (*worktree.Workspace, error)
	Preserve(ctx context.Context, ws *worktree.Workspace) error
	MarkForReview(ctx context.Context, ws *worktree.Workspace) error
}

// Validator is the Coach.
type Validator interface {
	Validate(ctx context.Context, taskID string, turn int, t *task.Task, prior []artifact.Decision) (artifact.Decision, error)
}

// Checkpointer snapshots and restores a workspace.
type Checkpointer interface {
	Load() error
	CreateCheckpoint(ctx context.Context, turn int, testsPassed bool, testCount int) (checkpoint.Checkpoint, error)
	ShouldRollback() bool
	FindLastPassingCheckpoint() (checkpoint.Checkpoint, bool)
	RollbackTo(ctx context.Context, turn int) (checkpoint.Checkpoint, error)
}

// DesignGate judges the pre-loop design.
type DesignGate interface {
	Evaluate(taskID string) (coach.DesignVerdict, error)
}

// Scanner reviews the files a Player turn touched.
type Scanner interface {
	Scan(ctx context.Context, dir, taskID string, turn int, files []string) (artifact.SecurityReview, error)
}
