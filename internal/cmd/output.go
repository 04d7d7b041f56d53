package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/checkpoint"
	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/history"
	"github.com/Iron-Ham/autobuild/internal/util"
	"github.com/Iron-Ham/autobuild/internal/wave"
)

// Colors meet WCAG AA contrast on dark terminals.
var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")
	accentColor  = lipgloss.Color("#A78BFA")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(12)
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
)

// issueWidth bounds issue descriptions in turn listings.
const issueWidth = 100

func decisionStyle(decision string) lipgloss.Style {
	switch decision {
	case string(engine.TerminalApproved), artifact.VerdictApprove, string(engine.StatusSuccess):
		return successStyle
	case string(engine.TerminalMaxTurnsExceeded), string(engine.TerminalStalled), artifact.VerdictFeedback:
		return warningStyle
	default:
		return errorStyle
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), value)
}

// renderResult prints the outcome of one run.
func renderResult(w io.Writer, r *engine.Result) {
	fmt.Fprintln(w, titleStyle.Render("Task "+r.TaskID))
	field(w, "Decision", decisionStyle(string(r.FinalDecision)).Render(string(r.FinalDecision)))
	field(w, "Turns", fmt.Sprintf("%d of %d", r.TotalTurns, r.MaxTurns))
	if r.RollbackCount > 0 {
		field(w, "Rollbacks", fmt.Sprint(r.RollbackCount))
	}
	field(w, "Duration", util.FormatDuration(r.FinishedAt.Sub(r.StartedAt)))
	if r.Workspace != nil {
		field(w, "Workspace", r.Workspace.Path)
		field(w, "Branch", r.Workspace.Branch)
	}
	field(w, "Run", mutedStyle.Render(r.RunID))

	if len(r.TurnHistory) > 0 {
		fmt.Fprintln(w)
		for _, t := range r.TurnHistory {
			renderTurn(w, t)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Summary)
}

func renderTurn(w io.Writer, t engine.Turn) {
	line := fmt.Sprintf("  Turn %d  %s", t.Number, decisionStyle(string(t.Status)).Render(string(t.Status)))
	if t.Synthetic() {
		line += mutedStyle.Render("  (reconstructed report)")
	}
	switch {
	case t.Checkpoint != nil:
		line += mutedStyle.Render("  checkpoint " + t.Checkpoint.ShortRevision())
	case t.RolledBack:
		line += mutedStyle.Render("  rolled back")
	}
	fmt.Fprintln(w, line)

	if t.Error != "" {
		fmt.Fprintf(w, "    %s\n", errorStyle.Render(util.TruncateANSI(t.Error, issueWidth)))
	}
	if fb, ok := t.Decision.(*artifact.Feedback); ok {
		fmt.Fprintf(w, "    %s\n", mutedStyle.Render(fmt.Sprintf("%d/%d acceptance criteria met", fb.Met, fb.Total)))
		for _, issue := range fb.Issues {
			fmt.Fprintf(w, "    [%s] %s\n", issue.Severity, util.TruncateANSI(issue.Description, issueWidth))
		}
	}
}

// renderWave prints one line per task followed by a tally.
func renderWave(w io.Writer, outcomes []wave.Outcome) {
	approved := 0
	for _, o := range outcomes {
		if o.Result == nil {
			fmt.Fprintf(w, "%-20s %s  %v\n", o.Task.ID, errorStyle.Render(fmt.Sprintf("%-18s", "failed")), o.Err)
			continue
		}
		if o.Succeeded() {
			approved++
		}
		decision := string(o.Result.FinalDecision)
		fmt.Fprintf(w, "%-20s %s  %s\n", o.Task.ID, decisionStyle(decision).Render(fmt.Sprintf("%-18s", decision)),
			mutedStyle.Render(util.Plural(o.Result.TotalTurns, "turn")))
	}
	fmt.Fprintf(w, "\n%d of %d approved\n", approved, len(outcomes))
}

func renderRuns(w io.Writer, runs []artifact.RunSummary, counts map[string]int) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-20s %s  %s  %s\n",
			mutedStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04")),
			r.TaskID,
			decisionStyle(r.FinalDecision).Render(fmt.Sprintf("%-18s", r.FinalDecision)),
			util.Plural(r.TotalTurns, "turn"),
			mutedStyle.Render(r.RunID))
	}
	if len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, d := range []string{"approved", "max_turns_exceeded", "stalled", "pre_loop_blocked", "error"} {
			if n := counts[d]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", d, n))
			}
		}
		fmt.Fprintf(w, "\n%s\n", mutedStyle.Render(strings.Join(parts, ", ")))
	}
}

func renderRun(w io.Writer, run artifact.RunSummary, turns []history.Turn) {
	fmt.Fprintln(w, titleStyle.Render("Run "+run.RunID))
	field(w, "Task", run.TaskID)
	field(w, "Decision", decisionStyle(run.FinalDecision).Render(run.FinalDecision))
	field(w, "Turns", fmt.Sprintf("%d of %d", run.TotalTurns, run.MaxTurns))
	field(w, "Started", run.StartedAt.Local().Format(time.DateTime))
	field(w, "Duration", util.FormatDuration(run.FinishedAt.Sub(run.StartedAt)))
	if run.Branch != "" {
		field(w, "Branch", run.Branch)
	}
	fmt.Fprintln(w)
	for _, t := range turns {
		line := fmt.Sprintf("  Turn %d  %s  %d criteria met  %s", t.Number, decisionStyle(t.Status).Render(t.Status),
			t.CriteriaMet, util.FormatDuration(t.EndedAt.Sub(t.StartedAt)))
		if t.Synthetic {
			line += mutedStyle.Render("  (reconstructed report)")
		}
		fmt.Fprintln(w, line)
		if t.Error != "" {
			fmt.Fprintf(w, "    %s\n", errorStyle.Render(util.TruncateANSI(t.Error, issueWidth)))
		}
	}
	if run.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", run.Summary)
	}
}

func renderCheckpoints(w io.Writer, cps []checkpoint.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No checkpoints recorded.")
		return
	}
	for _, cp := range cps {
		tests := successStyle.Render("pass")
		if !cp.TestsPassed {
			tests = errorStyle.Render("fail")
		}
		fmt.Fprintf(w, "Turn %-3d %s  tests %s  %s  %s\n", cp.Turn, cp.ShortRevision(), tests,
			util.Plural(cp.TestCount, "test"), mutedStyle.Render(cp.Timestamp.Local().Format(time.DateTime)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
