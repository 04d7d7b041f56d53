package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/util"
)

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow a task's turn reports as they are written",
	Long: `Follow a running task from another terminal.

Shows the artifacts already written for the task, then every new Player
report, Coach decision, security review and checkpoint as it lands. Exits
when the run summary is written or on q.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	taskID := args[0]
	ws, err := a.workspace(taskID)
	if err != nil {
		return err
	}
	store := a.store(ws)

	watcher, err := artifact.NewWatcher(store, taskID)
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	m := newWatchModel(store, taskID, watcher.Events(), watcher.Errors())
	if f, ok := cmd.OutOrStdout().(*os.File); !ok || !term.IsTerminal(f.Fd()) {
		return watchPlain(cmd.Context(), cmd.OutOrStdout(), m)
	}
	p := tea.NewProgram(m,
		tea.WithContext(cmd.Context()),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)
	final, err := p.Run()
	if err != nil {
		return err
	}
	if wm, ok := final.(watchModel); ok && wm.err != nil {
		return wm.err
	}
	return nil
}

// watchPlain prints one line per artifact when output is not a terminal.
func watchPlain(ctx context.Context, w io.Writer, m watchModel) error {
	for _, line := range m.lines {
		fmt.Fprintln(w, line)
	}
	if m.done {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-m.events:
			if !ok {
				return nil
			}
			fmt.Fprintln(w, describeArtifact(m.store, m.taskID, ev))
			if ev.Kind == artifact.KindSummary {
				return nil
			}
		case err, ok := <-m.errs:
			if !ok {
				return nil
			}
			fmt.Fprintln(w, errorStyle.Render("watch error: ")+err.Error())
		}
	}
}

type artifactMsg artifact.Event

type watchErrMsg struct{ err error }

type watchClosedMsg struct{}

// waitForArtifact blocks until the watcher reports something.
func waitForArtifact(events <-chan artifact.Event, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-events:
			if !ok {
				return watchClosedMsg{}
			}
			return artifactMsg(ev)
		case err, ok := <-errs:
			if !ok {
				return watchClosedMsg{}
			}
			return watchErrMsg{err: err}
		}
	}
}

type watchModel struct {
	store   *artifact.Store
	taskID  string
	events  <-chan artifact.Event
	errs    <-chan error
	spinner spinner.Model
	lines   []string
	done    bool
	err     error
}

func newWatchModel(store *artifact.Store, taskID string, events <-chan artifact.Event, errs <-chan error) watchModel {
	m := watchModel{
		store:   store,
		taskID:  taskID,
		events:  events,
		errs:    errs,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(mutedStyle)),
	}
	for _, ev := range backlog(store, taskID) {
		m.lines = append(m.lines, describeArtifact(store, taskID, ev))
		if ev.Kind == artifact.KindSummary {
			m.done = true
		}
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, waitForArtifact(m.events, m.errs))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case artifactMsg:
		ev := artifact.Event(msg)
		m.lines = append(m.lines, describeArtifact(m.store, m.taskID, ev))
		if ev.Kind == artifact.KindSummary {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForArtifact(m.events, m.errs)

	case watchErrMsg:
		m.lines = append(m.lines, errorStyle.Render("watch error: ")+msg.err.Error())
		return m, waitForArtifact(m.events, m.errs)

	case watchClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Watching "+m.taskID) + "\n")
	for _, line := range m.lines {
		b.WriteString(line + "\n")
	}
	if m.done {
		return b.String()
	}
	b.WriteString(m.spinner.View() + mutedStyle.Render(" waiting for the next report (q to quit)") + "\n")
	return b.String()
}

// backlog lists the artifacts already on disk in the order a run writes them.
func backlog(store *artifact.Store, taskID string) []artifact.Event {
	var evs []artifact.Event
	add := func(kind artifact.Kind, turn int) {
		if store.Exists(kind, taskID, turn) {
			evs = append(evs, artifact.Event{Kind: kind, Turn: turn, Path: store.Path(kind, taskID, turn)})
		}
	}

	add(artifact.KindDesignResults, 0)
	players, _ := store.Turns(artifact.KindPlayerReport, taskID)
	coaches, _ := store.Turns(artifact.KindCoachDecision, taskID)
	last := 0
	if n := len(players); n > 0 {
		last = players[n-1]
	}
	if n := len(coaches); n > 0 && coaches[n-1] > last {
		last = coaches[n-1]
	}
	for turn := 1; turn <= last; turn++ {
		add(artifact.KindPlayerReport, turn)
		add(artifact.KindCoachDecision, turn)
	}
	add(artifact.KindSummary, 0)
	return evs
}

// describeArtifact reads an artifact and renders it as one line.
func describeArtifact(store *artifact.Store, taskID string, ev artifact.Event) string {
	prefix := mutedStyle.Render(fmt.Sprintf("%-8s", turnLabel(ev.Turn)))

	var (
		text string
		err  error
	)
	switch ev.Kind {
	case artifact.KindPlayerReport:
		var r artifact.PlayerReport
		if err = store.Read(ev.Kind, taskID, ev.Turn, &r); err == nil {
			tests := errorStyle.Render("failing")
			if r.TestsPassed {
				tests = successStyle.Render("passing")
			}
			text = fmt.Sprintf("player reported %s, tests %s", util.Plural(len(r.TouchedFiles()), "file"), tests)
			if r.Synthetic {
				text += mutedStyle.Render(" (reconstructed)")
			}
		}

	case artifact.KindCoachDecision:
		var rec artifact.CoachRecord
		if err = store.Read(ev.Kind, taskID, ev.Turn, &rec); err == nil {
			text = describeDecision(rec.Decision)
		}

	case artifact.KindSecurityReview:
		var r artifact.SecurityReview
		if err = store.Read(ev.Kind, taskID, ev.Turn, &r); err == nil {
			text = fmt.Sprintf("security review: %s, %d critical, %d high",
				util.Plural(r.FilesScanned, "file"), r.CriticalCount, r.HighCount)
		}

	case artifact.KindDesignResults:
		var r artifact.DesignResults
		if err = store.Read(ev.Kind, taskID, ev.Turn, &r); err == nil {
			status := successStyle.Render("passed")
			if !r.CheckpointPassed {
				status = errorStyle.Render("blocked")
			}
			text = fmt.Sprintf("design %s, architectural score %d", status, r.ArchitecturalScore)
		}

	case artifact.KindSummary:
		var r artifact.RunSummary
		if err = store.Read(ev.Kind, taskID, ev.Turn, &r); err == nil {
			text = fmt.Sprintf("run finished: %s after %s",
				decisionStyle(r.FinalDecision).Render(r.FinalDecision), util.Plural(r.TotalTurns, "turn"))
		}

	case artifact.KindCheckpoints:
		text = "checkpoint history updated"

	default:
		text = ev.Kind.String() + " written"
	}

	if err != nil {
		text = fmt.Sprintf("%s written but unreadable: %v", ev.Kind, err)
	}
	return prefix + text
}

func describeDecision(d artifact.Decision) string {
	switch d := d.(type) {
	case *artifact.Approval:
		if d.Conditional() {
			return warningStyle.Render("coach approved") + " without infrastructure"
		}
		return successStyle.Render("coach approved")
	case *artifact.Feedback:
		return fmt.Sprintf("%s: %s, %d/%d criteria met", warningStyle.Render("coach feedback"),
			util.Plural(len(d.Blocking()), "blocking issue"), d.Met, d.Total)
	default:
		return "coach decision written"
	}
}

func turnLabel(turn int) string {
	if turn == 0 {
		return ""
	}
	return fmt.Sprintf("turn %d", turn)
}
