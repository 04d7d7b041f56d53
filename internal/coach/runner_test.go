package coach

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCountTests(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{"pytest", "===== 3 passed, 1 failed in 0.42s =====", 4},
		{"pytest errors", "1 passed, 2 errors in 1.0s", 3},
		{"go verbose", "=== RUN   TestA\n--- PASS: TestA (0.00s)\n=== RUN   TestB\n--- FAIL: TestB (0.01s)\nFAIL", 2},
		{"jest", "Tests:       1 failed, 6 passed, 7 total", 7},
		{"cargo", "test result: ok. 5 passed; 0 failed; 0 ignored\ntest result: ok. 2 passed; 1 failed; 0 ignored", 8},
		{"no tests", "collected 0 items\n\nno tests ran in 0.01s", 0},
		{"go no test files", "?   	example.com/app	[no test files]", 0},
		{"unrecognized", "ok  	example.com/app	0.012s", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountTests(tt.output); got != tt.want {
				t.Errorf("CountTests() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSummarizeTestOutput(t *testing.T) {
	if got := SummarizeTestOutput("", SummaryMaxLength); got != "No output" {
		t.Errorf("empty = %q", got)
	}

	output := strings.Join([]string{
		"collecting ...",
		"test_api.py::test_get",
		"E   AssertionError: 404 != 200",
		"E   assert 404 == 200",
		"",
		"===== 1 failed, 3 passed in 0.40s =====",
	}, "\n")
	got := SummarizeTestOutput(output, SummaryMaxLength)
	if !strings.Contains(got, "Error detail:\ntest_api.py::test_get\nE   AssertionError") {
		t.Errorf("missing error context:\n%s", got)
	}
	if !strings.Contains(got, "Result:\n") || !strings.HasSuffix(got, "===== 1 failed, 3 passed in 0.40s =====") {
		t.Errorf("missing result line:\n%s", got)
	}
	if strings.Contains(got, "collecting") {
		t.Errorf("context should start one line before the error:\n%s", got)
	}

	plain := "line one\nline two\nline three\nline four"
	if got := SummarizeTestOutput(plain, SummaryMaxLength); got != "line two\nline three\nline four" {
		t.Errorf("fallback = %q", got)
	}
}

func TestSummarizeTestOutput_Bounded(t *testing.T) {
	long := "E   " + strings.Repeat("x", 5000) + "\n1 failed"
	if got := SummarizeTestOutput(long, SummaryMaxLength); len(got) > SummaryMaxLength {
		t.Errorf("summary length = %d, want <= %d", len(got), SummaryMaxLength)
	}
}

func TestDetectTestCommand(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"", ""},
		{"go.mod", "go test ./..."},
		{"Cargo.toml", "cargo test"},
		{"package.json", "npm test"},
		{"pyproject.toml", "pytest"},
		{"pytest.ini", "pytest"},
	}
	for _, tt := range tests {
		t.Run("marker "+tt.file, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				if err := os.WriteFile(filepath.Join(dir, tt.file), nil, 0o644); err != nil {
					t.Fatal(err)
				}
			}
			if got := DetectTestCommand(dir); got != tt.want {
				t.Errorf("DetectTestCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShellCommand(t *testing.T) {
	c := ShellCommand("/ws", "pytest -q", []string{"A=1"})
	if c.Name != "sh" || strings.Join(c.Args, " ") != "-c pytest -q" || c.Dir != "/ws" || c.Env[0] != "A=1" {
		t.Errorf("ShellCommand() = %+v", c)
	}
}
