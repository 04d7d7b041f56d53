package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/event"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "autobuild" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "autobuild")
	}

	expected := []string{"run", "wave", "validate", "checkpoints", "history", "logs", "watch", "config", "clean"}
	cmdMap := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = true
	}
	for _, name := range expected {
		if !cmdMap[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"not approved", &notApprovedError{count: 1, total: 1}, ExitNotApproved},
		{"wrapped not approved", fmt.Errorf("wave: %w", &notApprovedError{count: 2, total: 3}), ExitNotApproved},
		{"validation", errors.NewValidationError("bad task").WithField("id"), ExitUsage},
		{"wrapped validation", errors.Wrap(errors.NewValidationError("bad"), "load task"), ExitUsage},
		{"other", fmt.Errorf("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    []string
		notWant []string
	}{
		{"nil", nil, nil, []string{"error"}},
		{"not approved", &notApprovedError{count: 1, total: 1}, []string{"task was not approved"}, []string{"error:", "warning:"}},
		{"validation", errors.NewValidationError("task has no acceptance criteria"), []string{"warning:", "no acceptance criteria"}, []string{"transient", "--log-level"}},
		{"environment", errors.NewEnvironmentError("workspace", fmt.Errorf("disk full")), []string{"critical:", "disk full"}, []string{"transient", "--log-level"}},
		{"timeout", errors.NewTimeoutError("independent test run", time.Minute), []string{"warning:", "transient"}, []string{"--log-level"}},
		{"checkpoint", errors.NewCheckpointError("commit", fmt.Errorf("index.lock exists")), []string{"warning:", "index.lock", "transient"}, nil},
		{"plain", fmt.Errorf("boom"), []string{"error:", "boom", "--log-level"}, []string{"transient"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ReportError(&buf, tt.err)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output should not contain %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestNotApprovedError(t *testing.T) {
	if got := (&notApprovedError{count: 1, total: 1}).Error(); got != "task was not approved" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&notApprovedError{count: 2, total: 5}).Error(); got != "2 of 5 tasks were not approved" {
		t.Errorf("Error() = %q", got)
	}
}

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
		want []string
	}{
		{
			name: "run started",
			ev:   event.NewRunStartedEvent("r", "TASK-1", "/ws", 5),
			want: []string{"TASK-1 started in /ws", "5 turns"},
		},
		{
			name: "turn started",
			ev:   event.NewTurnStartedEvent("r", "TASK-1", 2),
			want: []string{"turn 2", "player working"},
		},
		{
			name: "turn completed",
			ev:   event.NewTurnCompletedEvent("r", "TASK-1", 2, "feedback", "feedback", 3, true, 90*time.Second),
			want: []string{"turn 2", "feedback", "3 criteria met", "reconstructed report"},
		},
		{
			name: "rolled back",
			ev:   event.NewRolledBackEvent("r", "TASK-1", 4, 2, "abc"),
			want: []string{"rolled back to turn 2"},
		},
		{
			name: "stalled",
			ev:   event.NewStallDetectedEvent("r", "TASK-1", 3, event.StallRepeatedFeedback, "same feedback 3 turns"),
			want: []string{"stalled: same feedback 3 turns"},
		},
		{
			name: "finished",
			ev:   event.NewRunFinishedEvent("r", "TASK-1", true, "approved", 3, 0, time.Minute),
			want: []string{"TASK-1 finished", "approved"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progressLine(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("progressLine() = %q, missing %q", got, w)
				}
			}
		})
	}

	if got := progressLine(event.NewCheckpointCreatedEvent("r", "TASK-1", 1, "abc", true)); got != "" {
		t.Errorf("checkpoint events are not printed, got %q", got)
	}
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	handler := progressPrinter(&buf)
	handler(event.NewTurnStartedEvent("r", "TASK-1", 1))
	handler(event.NewCheckpointCreatedEvent("r", "TASK-1", 1, "abc", true))
	handler(event.NewTurnStartedEvent("r", "TASK-1", 2))

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("printed %d lines, want 2:\n%s", n, buf.String())
	}
}

func TestCleanCommand_RequiresTasksOrAll(t *testing.T) {
	cleanAll = false
	_, err := executeCommand(rootCmd, "clean")
	if ExitCode(err) != ExitUsage {
		t.Errorf("clean without arguments = %v, want usage error", err)
	}
}

func TestLogsCommand(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.NewLogger(logging.Options{Dir: dir, Level: "debug"})
	if err != nil {
		t.Fatal(err)
	}
	logger.WithTask("TASK-1").WithTurn(2).Info("rollback complete", "dropped", 1)
	logger.WithTask("TASK-2").Info("checkpoint created")
	logger.WithTask("TASK-1").Debug("player invoked")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name: "all",
			args: []string{"--tail", "0"},
			want: []string{"rollback complete", "checkpoint created", "player invoked"},
		},
		{
			name:    "by task",
			args:    []string{"--task", "TASK-2", "--tail", "0"},
			want:    []string{"checkpoint created"},
			notWant: []string{"rollback complete"},
		},
		{
			name:    "by level",
			args:    []string{"--level", "info", "--tail", "0"},
			want:    []string{"rollback complete"},
			notWant: []string{"player invoked"},
		},
		{
			name:    "grep",
			args:    []string{"--grep", "rollback", "--tail", "0"},
			want:    []string{"rollback complete", "task=TASK-1", "turn=2"},
			notWant: []string{"checkpoint created"},
		},
		{
			name:    "tail",
			args:    []string{"--tail", "1"},
			want:    []string{"player invoked"},
			notWant: []string{"checkpoint created"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logsTask, logsLevel, logsGrep, logsPhase = "", "", "", ""
			logsTurn, logsSince = 0, 0

			args := append([]string{"logs", "--dir", dir}, tt.args...)
			out, err := executeCommand(rootCmd, args...)
			if err != nil {
				t.Fatalf("logs = %v\n%s", err, out)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output should not contain %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	out, err := executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join("autobuild", "config.yaml")) {
		t.Errorf("config path output = %q", out)
	}
}
