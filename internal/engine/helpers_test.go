package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/checkpoint"
	"github.com/Iron-Ham/autobuild/internal/coach"
	"github.com/Iron-Ham/autobuild/internal/event"
	"github.com/Iron-Ham/autobuild/internal/executor"
	"github.com/Iron-Ham/autobuild/internal/task"
	"github.com/Iron-Ham/autobuild/internal/worktree"
)

const taskID = "TASK-1"

// fakeGit backs the real checkpoint manager. Every rev-parse returns the
// next revision in sequence.
type fakeGit struct {
	mu    sync.Mutex
	calls []string
	revs  int
}

func (f *fakeGit) Run(_ context.Context, _ string, _ string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))
	if len(args) > 0 && args[0] == "rev-parse" {
		f.revs++
		return []byte(fmt.Sprintf("rev%037d\n", f.revs)), nil
	}
	return nil, nil
}

func (f *fakeGit) resets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "reset --hard") {
			out = append(out, c)
		}
	}
	return out
}

type fakeWorkspaces struct {
	acquireErr error
	preserved  int
	reviewed   int
}

func (f *fakeWorkspaces) Acquire(_ context.Context, id string) (*worktree.Workspace, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &worktree.Workspace{TaskID: id, Path: "/ws", Branch: "autobuild/" + id}, nil
}

func (f *fakeWorkspaces) Preserve(context.Context, *worktree.Workspace) error {
	f.preserved++
	return nil
}

func (f *fakeWorkspaces) MarkForReview(context.Context, *worktree.Workspace) error {
	f.reviewed++
	return nil
}

// fakeValidator returns decide(turn). err fails every call and errOn fails
// single turns; failed calls add no decision.
type fakeValidator struct {
	decide  func(turn int) artifact.Decision
	err     error
	errOn   map[int]error
	calls   int
	decided int
}

func (f *fakeValidator) Validate(_ context.Context, _ string, turn int, _ *task.Task, prior []artifact.Decision) (artifact.Decision, error) {
	f.calls++
	if len(prior) != f.decided {
		return nil, fmt.Errorf("turn %d got %d prior decisions, want %d", turn, len(prior), f.decided)
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := f.errOn[turn]; err != nil {
		return nil, err
	}
	f.decided++
	return f.decide(turn), nil
}

type fakeScanner struct {
	files [][]string
}

func (f *fakeScanner) Scan(_ context.Context, _ string, _ string, turn int, files []string) (artifact.SecurityReview, error) {
	f.files = append(f.files, files)
	return artifact.SecurityReview{TaskID: taskID, Turn: turn}, nil
}

type fakeRunner struct {
	exitCode int
	calls    int
}

func (f *fakeRunner) Run(context.Context, coach.Command) (coach.Output, error) {
	f.calls++
	return coach.Output{ExitCode: f.exitCode}, nil
}

// harness wires an Engine to fakes sharing one in-memory artifact store.
// The default Player writes a report with passing tests every turn.
type harness struct {
	t          *testing.T
	store      *artifact.Store
	git        *fakeGit
	workspaces *fakeWorkspaces
	validator  *fakeValidator
	runner     *fakeRunner
	bus        *event.Bus

	mu          sync.Mutex
	invocations []executor.Invocation
	events      []event.Event
	player      func(ctx context.Context, inv executor.Invocation) error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:          t,
		store:      artifact.NewStore(afero.NewMemMapFs(), "/ws", ""),
		git:        &fakeGit{},
		workspaces: &fakeWorkspaces{},
		validator:  &fakeValidator{decide: func(int) artifact.Decision { return feedback(0, "not done") }},
		runner:     &fakeRunner{},
		bus:        event.NewBus(nil),
	}
	h.player = func(_ context.Context, inv executor.Invocation) error {
		h.writeReport(inv.Turn, true)
		return nil
	}
	h.bus.SubscribeAll(func(ev event.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})
	return h
}

func (h *harness) config() Config {
	return Config{
		Workspaces: h.workspaces,
		Executor: executor.Func(func(ctx context.Context, inv executor.Invocation) (string, error) {
			h.mu.Lock()
			h.invocations = append(h.invocations, inv)
			h.mu.Unlock()
			return "", h.player(ctx, inv)
		}),
		NewStore: func(*worktree.Workspace) *artifact.Store { return h.store },
		NewValidator: func(*worktree.Workspace, *artifact.Store) Validator {
			return h.validator
		},
		NewCheckpointer: func(ws *worktree.Workspace, store *artifact.Store) Checkpointer {
			return checkpoint.NewManager(worktree.NewGit(ws.Path, h.git), store, ws.TaskID, nil)
		},
		TestRunner:  h.runner,
		TestCommand: "go test ./...",
		Bus:         h.bus,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func (h *harness) run(t *task.Task, mutate func(*Config)) *Result {
	h.t.Helper()
	cfg := h.config()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		h.t.Fatalf("New() = %v", err)
	}
	res, err := e.Orchestrate(context.Background(), t)
	if err != nil {
		h.t.Fatalf("Orchestrate() = %v", err)
	}
	return res
}

func (h *harness) writeReport(turn int, testsPassed bool) {
	h.t.Helper()
	report := artifact.PlayerReport{
		TaskID:        taskID,
		Turn:          turn,
		FilesModified: []string{"handler.go"},
		FilesCreated:  []string{"handler_test.go"},
		TestsWritten:  []string{"handler_test.go"},
		TestsRun:      true,
		TestsPassed:   testsPassed,
	}
	if err := h.store.Write(artifact.KindPlayerReport, taskID, turn, report); err != nil {
		h.t.Fatalf("write report: %v", err)
	}
}

func (h *harness) playerPrompts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, inv := range h.invocations {
		if inv.Role == executor.RolePlayer {
			out = append(out, inv.Prompt)
		}
	}
	return out
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.EventType()
	}
	return out
}

func newTask(maxTurns int) *task.Task {
	return &task.Task{
		ID:           taskID,
		Requirements: "Add a health endpoint.",
		AcceptanceCriteria: []string{
			"GET /health returns 200",
			"Response body is JSON",
		},
		MaxTurns: maxTurns,
	}
}

// feedback is a verdict on unmet criteria after the Coach's own test run
// passed.
func feedback(met int, descriptions ...string) *artifact.Feedback {
	fb := &artifact.Feedback{Met: met, Total: 2, Tests: &artifact.TestVerification{TestsPassed: true, TestsRun: 2}}
	for _, d := range descriptions {
		fb.Issues = append(fb.Issues, artifact.Issue{
			Type:        artifact.IssueRequirements,
			Severity:    artifact.SeverityMustFix,
			Description: d,
		})
	}
	return fb
}

// failing is a verdict after the Coach's own test run failed.
func failing(met int, descriptions ...string) *artifact.Feedback {
	fb := &artifact.Feedback{Met: met, Total: 2, Tests: &artifact.TestVerification{TestsRun: 2}}
	for _, d := range descriptions {
		fb.Issues = append(fb.Issues, artifact.Issue{
			Type:        artifact.IssueTestVerification,
			Severity:    artifact.SeverityMustFix,
			Description: d,
		})
	}
	return fb
}

func approval() *artifact.Approval {
	return &artifact.Approval{Results: artifact.ValidationResults{
		IndependentTests: artifact.TestVerification{TestsPassed: true, TestsRun: 2},
		Requirements:     artifact.RequirementsResult{Total: 2, Met: 2, Strategy: "promises"},
	}}
}

// script returns decisions by turn; turns past the end repeat the last one.
func script(decisions ...artifact.Decision) func(int) artifact.Decision {
	return func(turn int) artifact.Decision {
		if turn > len(decisions) {
			return decisions[len(decisions)-1]
		}
		return decisions[turn-1]
	}
}

func assertContiguous(t *testing.T, res *Result) {
	t.Helper()
	if len(res.TurnHistory) != res.TotalTurns {
		t.Fatalf("len(TurnHistory) = %d, TotalTurns = %d", len(res.TurnHistory), res.TotalTurns)
	}
	for i, turn := range res.TurnHistory {
		if turn.Number != i+1 {
			t.Errorf("TurnHistory[%d].Number = %d", i, turn.Number)
		}
		if turn.Status == StatusInProgress {
			t.Errorf("turn %d left in progress", turn.Number)
		}
	}
}
