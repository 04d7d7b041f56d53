package coach

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/util"
)

// Command is one subprocess the Coach runs.
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env is appended to the current environment.
	Env []string
}

// Output is what a finished command produced. A non-zero exit is reported
// through ExitCode, not as an error.
type Output struct {
	Text     string
	ExitCode int
}

// Runner starts commands. Run returns an error only when the command could
// not be started or ctx ended first.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := Output{Text: buf.String()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

// ShellCommand wraps a test command string for sh -c.
func ShellCommand(dir, line string, env []string) Command {
	return Command{Dir: dir, Name: "sh", Args: []string{"-c", line}, Env: env}
}

var testCommandMarkers = []struct {
	file    string
	command string
}{
	{"go.mod", "go test ./..."},
	{"Cargo.toml", "cargo test"},
	{"package.json", "npm test"},
	{"pyproject.toml", "pytest"},
	{"setup.py", "pytest"},
	{"pytest.ini", "pytest"},
}

// DetectTestCommand picks a test command from the project files in dir.
// It returns "" when nothing is recognized.
func DetectTestCommand(dir string) string {
	for _, m := range testCommandMarkers {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.command
		}
	}
	return ""
}

var (
	pytestCountPattern = regexp.MustCompile(`(\d+) (passed|failed|errors?)`)
	goTestResult       = regexp.MustCompile(`(?m)^\s*--- (PASS|FAIL):`)
	jestCountPattern   = regexp.MustCompile(`Tests:\s+(?:(\d+) failed, )?(\d+) passed`)
	cargoCountPattern  = regexp.MustCompile(`test result: \w+\. (\d+) passed; (\d+) failed`)
	noTestsPattern     = regexp.MustCompile(`(?i)(no tests ran|no test files|collected 0 items|ran 0 tests|no tests found)`)
)

// CountTests extracts the number of tests a runner reported from its
// output. It returns -1 when the output carries no recognizable count.
func CountTests(output string) int {
	if m := cargoCountPattern.FindAllStringSubmatch(output, -1); len(m) > 0 {
		total := 0
		for _, g := range m {
			total += atoi(g[1]) + atoi(g[2])
		}
		return total
	}
	if m := jestCountPattern.FindStringSubmatch(output); m != nil {
		return atoi(m[1]) + atoi(m[2])
	}
	if m := goTestResult.FindAllString(output, -1); len(m) > 0 {
		return len(m)
	}
	if m := pytestCountPattern.FindAllStringSubmatch(output, -1); len(m) > 0 {
		total := 0
		for _, g := range m {
			total += atoi(g[1])
		}
		return total
	}
	if noTestsPattern.MatchString(output) {
		return 0
	}
	return -1
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// SummaryMaxLength bounds the test output placed in feedback.
const SummaryMaxLength = 1000

var errorMarkers = []string{
	"Error:", "ERRORS", "ImportError", "ModuleNotFoundError",
	"ConnectionRefusedError", "OperationalError", "E   ",
	"FileNotFoundError", "ConnectionError", "TypeError",
	"ValueError", "AttributeError", "KeyError", "panic:", "--- FAIL",
}

var summaryKeywords = []string{"passed", "failed", "error", "skipped", "success", "failure", "ok", "tests"}

// SummarizeTestOutput keeps the context around the first error plus up to
// five result lines from the tail of the output, truncated to maxLen.
func SummarizeTestOutput(output string, maxLen int) string {
	lines := util.SplitLines(output)
	if len(lines) == 0 {
		return "No output"
	}

	var errorContext []string
	for i, line := range lines {
		if containsAny(line, errorMarkers) {
			start := max(0, i-1)
			end := min(len(lines), i+4)
			errorContext = lines[start:end]
			break
		}
	}

	var results []string
	tail := lines[max(0, len(lines)-20):]
	for i := len(tail) - 1; i >= 0 && len(results) < 5; i-- {
		if containsAny(strings.ToLower(tail[i]), summaryKeywords) {
			results = append([]string{strings.TrimSpace(tail[i])}, results...)
		}
	}

	var parts []string
	if len(errorContext) > 0 {
		parts = append(parts, "Error detail:\n"+strings.Join(errorContext, "\n"))
	}
	if len(results) > 0 {
		parts = append(parts, "Result:\n"+strings.Join(results, "\n"))
	}
	if len(parts) == 0 {
		parts = util.LastLines(output, 3)
	}
	return util.TruncateString(strings.Join(parts, "\n"), maxLen)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
