package engine

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

// Summarize renders the human-readable outcome of a run.
func Summarize(r *Result) string {
	var b strings.Builder

	switch r.FinalDecision {
	case TerminalApproved:
		fmt.Fprintf(&b, "Approved after %d turn(s).", r.TotalTurns)
		if r.Conditional {
			b.WriteString(" Conditional approval: independent tests could not run because the required infrastructure was unavailable. Verify them before merging.")
		}
	case TerminalMaxTurnsExceeded:
		fmt.Fprintf(&b, "Not approved within %d turn(s).", r.MaxTurns)
		if fb, ok := r.LastDecision().(*artifact.Feedback); ok {
			fmt.Fprintf(&b, " Last feedback: %d blocking issue(s), %d/%d acceptance criteria met.",
				len(fb.Blocking()), fb.Met, fb.Total)
		}
	case TerminalPreLoopBlocked:
		fmt.Fprintf(&b, "Blocked before implementation: %s.", r.Error)
	case TerminalStalled:
		fmt.Fprintf(&b, "Stalled after %d turn(s): %s.", r.TotalTurns, r.Error)
	case TerminalError:
		fmt.Fprintf(&b, "Failed after %d turn(s): %s.", r.TotalTurns, r.Error)
	}

	if r.RollbackCount > 0 {
		fmt.Fprintf(&b, " Rolled back %d time(s).", r.RollbackCount)
	}
	if synthetic := countSynthetic(r.TurnHistory); synthetic > 0 {
		fmt.Fprintf(&b, " %d turn(s) used reconstructed reports.", synthetic)
	}
	if ws := r.Workspace; ws != nil {
		fmt.Fprintf(&b, " Workspace preserved at %s", ws.Path)
		if ws.Branch != "" {
			fmt.Fprintf(&b, " (branch %s)", ws.Branch)
		}
		b.WriteString(".")
	}
	return b.String()
}

func countSynthetic(turns []Turn) int {
	n := 0
	for _, t := range turns {
		if t.Synthetic() {
			n++
		}
	}
	return n
}

// RunSummary converts a result to its persisted form.
func (r *Result) RunSummary() artifact.RunSummary {
	s := artifact.RunSummary{
		RunID:         r.RunID,
		TaskID:        r.TaskID,
		Success:       r.Success,
		FinalDecision: string(r.FinalDecision),
		TotalTurns:    r.TotalTurns,
		MaxTurns:      r.MaxTurns,
		RollbackCount: r.RollbackCount,
		Conditional:   r.Conditional,
		Error:         r.Error,
		Summary:       r.Summary,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if r.Workspace != nil {
		s.Workspace = r.Workspace.Path
		s.Branch = r.Workspace.Branch
	}
	return s
}
