package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/task"
)

var validateCmd = &cobra.Command{
	Use:   "validate <task-file>",
	Short: "Re-run the Coach on a turn of an existing workspace",
	Long: `Validate runs the Coach alone against the task's existing worktree, as
if the given turn had just finished, and prints its decision. The decision
replaces coach_turn_<N>.json for that turn.

Without --turn the latest turn with a Player report is validated.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var (
	validateTurn int
	validateJSON bool
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().IntVar(&validateTurn, "turn", 0, "Turn to validate (default: latest)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the coach record as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	t, err := task.Load(args[0])
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ws, err := a.workspace(t.ID)
	if err != nil {
		return err
	}
	unlock, err := a.lockTasks(t.ID)
	if err != nil {
		return err
	}
	defer unlock()
	store := a.store(ws)

	turn := validateTurn
	if turn <= 0 {
		turns, err := store.Turns(artifact.KindPlayerReport, t.ID)
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return errors.NewNotFoundError("player report", t.ID)
		}
		turn = turns[len(turns)-1]
	}

	prior, err := priorDecisions(store, t.ID, turn)
	if err != nil {
		return err
	}
	decision, err := a.validator(ws, store).Validate(cmd.Context(), t.ID, turn, t, prior)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		return writeJSON(out, artifact.CoachRecord{TaskID: t.ID, Turn: turn, Decision: decision})
	}
	renderTurn(out, engine.Turn{Number: turn, Status: decisionStatus(decision), Decision: decision})
	if ap, ok := decision.(*artifact.Approval); ok && ap.Conditional() {
		fmt.Fprintln(out, warningStyle.Render("Conditional approval: declared infrastructure was unavailable."))
	}
	return nil
}

// priorDecisions reads the recorded decisions of turns before turn, oldest
// first. Turns without a record are skipped.
func priorDecisions(store *artifact.Store, taskID string, turn int) ([]artifact.Decision, error) {
	turns, err := store.Turns(artifact.KindCoachDecision, taskID)
	if err != nil {
		return nil, err
	}
	var prior []artifact.Decision
	for _, n := range turns {
		if n >= turn {
			break
		}
		var rec artifact.CoachRecord
		if err := store.Read(artifact.KindCoachDecision, taskID, n, &rec); err != nil {
			return nil, err
		}
		prior = append(prior, rec.Decision)
	}
	return prior, nil
}

func decisionStatus(d artifact.Decision) engine.Status {
	if d.Verdict() == artifact.VerdictApprove {
		return engine.StatusSuccess
	}
	return engine.StatusFeedback
}
