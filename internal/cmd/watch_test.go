package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

func newWatchStore(t *testing.T) *artifact.Store {
	t.Helper()
	store := artifact.NewStore(afero.NewMemMapFs(), "/ws", "")
	if err := store.Write(artifact.KindPlayerReport, "TASK-1", 1, artifact.PlayerReport{
		TaskID:        "TASK-1",
		Turn:          1,
		FilesModified: []string{"main.go"},
		FilesCreated:  []string{"health.go"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(artifact.KindCoachDecision, "TASK-1", 1, artifact.CoachRecord{
		TaskID: "TASK-1",
		Turn:   1,
		Decision: &artifact.Feedback{
			Issues: []artifact.Issue{{Type: artifact.IssueTestFailure, Severity: artifact.SeverityMustFix, Description: "tests fail"}},
			Met:    1,
			Total:  3,
		},
	}); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestBacklog(t *testing.T) {
	store := newWatchStore(t)
	if err := store.Write(artifact.KindPlayerReport, "TASK-1", 2, artifact.PlayerReport{TaskID: "TASK-1", Turn: 2}); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, ev := range backlog(store, "TASK-1") {
		got = append(got, ev.Kind.FileName(ev.Turn))
	}
	want := "player_turn_1.json coach_turn_1.json player_turn_2.json"
	if strings.Join(got, " ") != want {
		t.Errorf("backlog = %v, want %s", got, want)
	}
}

func TestWatchModel(t *testing.T) {
	store := newWatchStore(t)
	m := newWatchModel(store, "TASK-1", nil, nil)
	if m.done {
		t.Fatal("model should wait while no summary exists")
	}
	if len(m.lines) != 2 {
		t.Fatalf("backlog lines = %q", m.lines)
	}
	if !strings.Contains(m.lines[0], "2 files") || !strings.Contains(m.lines[0], "failing") {
		t.Errorf("player line = %q", m.lines[0])
	}
	if !strings.Contains(m.lines[1], "1 blocking issue") || !strings.Contains(m.lines[1], "1/3 criteria met") {
		t.Errorf("coach line = %q", m.lines[1])
	}

	if err := store.Write(artifact.KindSecurityReview, "TASK-1", 2, artifact.SecurityReview{TaskID: "TASK-1", Turn: 2, FilesScanned: 4, HighCount: 1}); err != nil {
		t.Fatal(err)
	}
	updated, cmd := m.Update(artifactMsg{Kind: artifact.KindSecurityReview, Turn: 2})
	m = updated.(watchModel)
	if cmd == nil {
		t.Error("model should keep waiting after a report")
	}
	if last := m.lines[len(m.lines)-1]; !strings.Contains(last, "4 files, 0 critical, 1 high") {
		t.Errorf("security line = %q", last)
	}

	if err := store.Write(artifact.KindSummary, "TASK-1", 0, artifact.RunSummary{TaskID: "TASK-1", FinalDecision: "approved", TotalTurns: 2}); err != nil {
		t.Fatal(err)
	}
	updated, cmd = m.Update(artifactMsg{Kind: artifact.KindSummary})
	m = updated.(watchModel)
	if !m.done {
		t.Error("summary should finish the watch")
	}
	if cmd == nil {
		t.Fatal("summary should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("summary should return tea.Quit")
	}
	view := m.View()
	if !strings.Contains(view, "run finished: approved after 2 turns") {
		t.Errorf("View() = %q", view)
	}
	if strings.Contains(view, "waiting") {
		t.Error("finished view should not show the spinner")
	}
}

func TestWatchModel_Keys(t *testing.T) {
	m := newWatchModel(newWatchStore(t), "TASK-1", nil, nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if cmd != nil {
		t.Error("unbound key should do nothing")
	}
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
}

func TestWatchModel_UnreadableArtifact(t *testing.T) {
	store := newWatchStore(t)
	if err := store.WriteRaw(artifact.KindDesignResults, "TASK-1", 0, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	line := describeArtifact(store, "TASK-1", artifact.Event{Kind: artifact.KindDesignResults})
	if !strings.Contains(line, "design_results written but unreadable") {
		t.Errorf("line = %q", line)
	}
}

func TestWatchModel_FinishedBacklog(t *testing.T) {
	store := newWatchStore(t)
	if err := store.Write(artifact.KindSummary, "TASK-1", 0, artifact.RunSummary{TaskID: "TASK-1", FinalDecision: "stalled", TotalTurns: 1}); err != nil {
		t.Fatal(err)
	}
	m := newWatchModel(store, "TASK-1", nil, nil)
	if !m.done {
		t.Fatal("existing summary should finish the watch")
	}
	if _, ok := m.Init()().(tea.QuitMsg); !ok {
		t.Error("Init should quit when the run already finished")
	}
}

func TestWatchPlain(t *testing.T) {
	store := newWatchStore(t)
	if err := store.Write(artifact.KindSummary, "TASK-1", 0, artifact.RunSummary{TaskID: "TASK-1", FinalDecision: "max_turns_exceeded", TotalTurns: 3}); err != nil {
		t.Fatal(err)
	}
	events := make(chan artifact.Event, 2)
	errs := make(chan error)
	m := newWatchModel(artifact.NewStore(afero.NewMemMapFs(), "/empty", ""), "TASK-1", events, errs)
	m.store = store
	events <- artifact.Event{Kind: artifact.KindCoachDecision, Turn: 1}
	events <- artifact.Event{Kind: artifact.KindSummary}

	var buf bytes.Buffer
	if err := watchPlain(context.Background(), &buf, m); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "run finished: max_turns_exceeded after 3 turns") {
		t.Errorf("last line = %q", lines[1])
	}
}
