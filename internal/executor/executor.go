// Package executor launches the agent CLI for one Player invocation and
// waits for it to finish.
//
// The executor only reports whether the agent finished, failed or timed
// out. Everything the agent produces is read back from the artifact store.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"

	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

const waitDelay = 5 * time.Second

// Role names the part an invocation plays in the loop.
type Role string

const (
	// RolePlayer implements the task during a turn.
	RolePlayer Role = "player"
	// RoleDesign is the Player producing the pre-loop design.
	RoleDesign Role = "design"
)

// Invocation is one agent run.
type Invocation struct {
	Role       Role
	Turn       int
	Prompt     string
	Permission string
	// AllowedTools restricts the agent's tools. Empty leaves the CLI default.
	AllowedTools []string
	// Timeout bounds the run. Zero means only ctx bounds it.
	Timeout time.Duration
	// Dir is the working directory, normally the task workspace.
	Dir string
}

// Func adapts a function to the engine's executor interface.
type Func func(ctx context.Context, inv Invocation) (string, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, inv Invocation) (string, error) {
	return f(ctx, inv)
}

// Options configures a CLI executor.
type Options struct {
	// Command is the agent binary, e.g. "claude".
	Command string
	// Args precede the generated flags and the prompt.
	Args []string
	// UsePTY attaches the agent to a pseudo-terminal. Some CLIs only stream
	// progress when they see a terminal.
	UsePTY bool
	// Transcript, when set, receives the agent output as it is produced.
	Transcript io.Writer
	Logger     *logging.Logger
}

// CLI runs an agent command line per invocation.
type CLI struct {
	opts   Options
	logger *logging.Logger
}

// New creates a CLI executor.
func New(opts Options) *CLI {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &CLI{opts: opts, logger: opts.Logger.With("component", "executor")}
}

// BuildArgs returns the arguments for inv: the configured args, the
// permission and tool flags, then the prompt.
func (c *CLI) BuildArgs(inv Invocation) []string {
	args := append([]string{}, c.opts.Args...)
	if inv.Permission != "" {
		args = append(args, "--permission-mode", inv.Permission)
	}
	if len(inv.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(inv.AllowedTools, ","))
	}
	return append(args, inv.Prompt)
}

// Invoke runs the agent and returns its transcript. A deadline or a
// non-zero exit yields an ActorInvocationError; the transcript collected so
// far is returned alongside it.
func (c *CLI) Invoke(ctx context.Context, inv Invocation) (string, error) {
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}
	logger := c.logger.WithTurn(inv.Turn).With("role", string(inv.Role))

	cmd := exec.CommandContext(ctx, c.opts.Command, c.BuildArgs(inv)...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), "AUTOBUILD_ROLE="+string(inv.Role))
	// Grandchildren can hold the output open after the agent is killed.
	cmd.WaitDelay = waitDelay

	logger.Info("invoking agent", "command", c.opts.Command, "dir", inv.Dir, "pty", c.opts.UsePTY, "timeout", inv.Timeout)
	start := time.Now()

	var (
		transcript string
		err        error
	)
	if c.opts.UsePTY {
		transcript, err = c.runPTY(ctx, cmd)
	} else {
		transcript, err = c.runPipe(cmd)
	}
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		timedOut := errors.Is(ctxErr, context.DeadlineExceeded)
		logger.Warn("agent invocation interrupted", "timed_out", timedOut, "elapsed", elapsed)
		return transcript, errors.NewActorInvocationError(string(inv.Role), inv.Turn, ctxErr).WithTimedOut(timedOut)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("agent exited with error", "exit_code", exitErr.ExitCode(), "elapsed", elapsed)
			return transcript, errors.NewActorInvocationError(string(inv.Role), inv.Turn, err).
				WithMessage(fmt.Sprintf("agent exited with code %d", exitErr.ExitCode()))
		}
		logger.Error("agent failed to start", "error", err)
		return transcript, errors.NewActorInvocationError(string(inv.Role), inv.Turn, err).WithMessage("agent failed to start")
	}

	logger.Info("agent finished", "elapsed", elapsed, "transcript_bytes", len(transcript))
	return transcript, nil
}

func (c *CLI) runPipe(cmd *exec.Cmd) (string, error) {
	var buf syncBuffer
	out := c.sink(&buf)
	cmd.Stdout = out
	cmd.Stderr = out
	err := cmd.Run()
	return buf.String(), err
}

// runPTY reads the terminal until the child closes it. Reads fail with EIO
// once every holder of the terminal exits, which ends the copy. A
// grandchild can keep it open past the agent, so ctx ending closes it too.
func (c *CLI) runPTY(ctx context.Context, cmd *exec.Cmd) (string, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer stop()

	var buf syncBuffer
	_, _ = io.Copy(c.sink(&buf), f)
	err = cmd.Wait()
	return ansi.Strip(buf.String()), err
}

func (c *CLI) sink(buf *syncBuffer) io.Writer {
	if c.opts.Transcript == nil {
		return buf
	}
	return io.MultiWriter(buf, c.opts.Transcript)
}

// syncBuffer lets stdout and stderr share one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
