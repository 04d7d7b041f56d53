package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/autobuild/internal/event"
	"github.com/Iron-Ham/autobuild/internal/util"
)

// progressPrinter renders engine events as one line each. Safe for the
// concurrent publishers of a wave.
func progressPrinter(w io.Writer) event.Handler {
	var mu sync.Mutex
	return func(ev event.Event) {
		line := progressLine(ev)
		if line == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
}

func progressLine(ev event.Event) string {
	switch e := ev.(type) {
	case event.RunStartedEvent:
		return fmt.Sprintf("%s started in %s (budget %s)", e.TaskID, e.Workspace, util.Plural(e.MaxTurns, "turn"))
	case event.TurnStartedEvent:
		return mutedStyle.Render(fmt.Sprintf("%s turn %d: player working", e.TaskID, e.Turn))
	case event.TurnCompletedEvent:
		line := fmt.Sprintf("%s turn %d: %s", e.TaskID, e.Turn, decisionStyle(e.Status).Render(e.Status))
		if e.Decision != "" {
			line += fmt.Sprintf(", %d criteria met", e.CriteriaMet)
		}
		line += mutedStyle.Render(" in " + util.FormatDuration(e.Duration))
		if e.Synthetic {
			line += mutedStyle.Render(" (reconstructed report)")
		}
		return line
	case event.RolledBackEvent:
		return warningStyle.Render(fmt.Sprintf("%s rolled back to turn %d", e.TaskID, e.ToTurn))
	case event.StallDetectedEvent:
		return warningStyle.Render(fmt.Sprintf("%s stalled: %s", e.TaskID, e.Reason))
	case event.RunFinishedEvent:
		return fmt.Sprintf("%s finished: %s", e.TaskID, decisionStyle(e.FinalDecision).Render(e.FinalDecision))
	}
	return ""
}
