package coach

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

func boolPtr(b bool) *bool        { return &b }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

// fakeRunner records commands and answers them through run.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	run   func(Command) (Output, error)
}

func (f *fakeRunner) Run(_ context.Context, c Command) (Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.run == nil {
		return Output{}, nil
	}
	return f.run(c)
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	}
	return out
}

// testsExit answers test commands with output and exit code, and every
// other command with success.
func testsExit(output string, code int) func(Command) (Output, error) {
	return func(c Command) (Output, error) {
		if c.Name == "sh" {
			return Output{Text: output, ExitCode: code}, nil
		}
		return Output{}, nil
	}
}

func passingResults() artifact.TaskWorkResults {
	return artifact.TaskWorkResults{
		TaskID: "TASK-1",
		QualityGates: artifact.QualityGates{
			AllPassed:   boolPtr(true),
			TestsPassed: 4,
			TestsFailed: intPtr(0),
			Coverage:    floatPtr(85),
			CoverageMet: boolPtr(true),
		},
		CodeReview:   artifact.CodeReview{Score: 80},
		TestsWritten: []string{"health_test.go"},
		CompletionPromises: []artifact.CompletionPromise{
			{CriterionID: "AC-001", Status: artifact.PromiseComplete, Evidence: "handler test"},
			{CriterionID: "AC-002", Status: artifact.PromiseComplete, Evidence: "json test"},
		},
	}
}

func newMemStore(t *testing.T) *artifact.Store {
	t.Helper()
	return artifact.NewStore(afero.NewMemMapFs(), "/ws", "")
}

func writeResults(t *testing.T, s *artifact.Store, r artifact.TaskWorkResults) {
	t.Helper()
	if err := s.Write(artifact.KindTaskWorkResults, "TASK-1", 0, r); err != nil {
		t.Fatal(err)
	}
}

func issueTypes(d artifact.Decision) []string {
	fb, ok := d.(*artifact.Feedback)
	if !ok {
		return nil
	}
	out := make([]string, len(fb.Issues))
	for i, issue := range fb.Issues {
		out[i] = issue.Type
	}
	return out
}
