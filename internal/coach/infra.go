package coach

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/autobuild/internal/logging"
)

// Fixture is a container that provides one declared service.
type Fixture struct {
	Image string
	Ports []string
	Env   map[string]string
	// TestEnv is exported to the test run while the fixture is up.
	TestEnv map[string]string
}

// Infrastructure probes for and manages service fixtures. Fixtures run as
// containers outside the workspace.
type Infrastructure struct {
	runner   Runner
	probe    []string
	fixtures map[string]Fixture
	timeout  time.Duration
	logger   *logging.Logger
}

// NewInfrastructure creates an Infrastructure. probe is the command whose
// success means containers can be started, e.g. ["docker", "info"].
func NewInfrastructure(runner Runner, probe []string, fixtures map[string]Fixture, timeout time.Duration, logger *logging.Logger) *Infrastructure {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Infrastructure{
		runner:   runner,
		probe:    probe,
		fixtures: fixtures,
		timeout:  timeout,
		logger:   logger.With("component", "infrastructure"),
	}
}

// Available reports whether the probe command succeeds.
func (i *Infrastructure) Available(ctx context.Context) bool {
	if len(i.probe) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, min(i.timeout, 10*time.Second))
	defer cancel()

	out, err := i.runner.Run(ctx, Command{Name: i.probe[0], Args: i.probe[1:]})
	if err != nil || out.ExitCode != 0 {
		i.logger.Debug("infrastructure probe failed", "command", strings.Join(i.probe, " "), "exit_code", out.ExitCode, "error", err)
		return false
	}
	return true
}

// ContainerName is the fixture container name for a service and task.
func ContainerName(service, taskID string) string {
	return "autobuild-" + sanitizeName(service) + "-" + sanitizeName(taskID)
}

// Start launches the fixtures for services concurrently and returns the
// environment for the test run plus a teardown func. The teardown is
// always non-nil and safe to call even when Start fails. A service without
// a configured fixture fails Start before any container is launched, since
// the test run would not have that service.
func (i *Infrastructure) Start(ctx context.Context, taskID string, services []string) ([]string, func(), error) {
	var env []string
	known := make([]string, 0, len(services))
	var missing []string
	for _, svc := range services {
		fx, ok := i.fixtures[svc]
		if !ok {
			missing = append(missing, svc)
			continue
		}
		known = append(known, svc)
		env = append(env, envList(fx.TestEnv)...)
	}
	if len(missing) > 0 {
		return nil, func() {}, fmt.Errorf("no fixture configured for %s", strings.Join(missing, ", "))
	}

	teardown := func() {
		// Fixtures may outlive a cancelled run context.
		ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
		defer cancel()
		for _, svc := range known {
			name := ContainerName(svc, taskID)
			if _, err := i.runner.Run(ctx, Command{Name: "docker", Args: []string{"rm", "-f", name}}); err != nil {
				i.logger.Warn("failed to stop fixture", "container", name, "error", err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range known {
		fx := i.fixtures[svc]
		name := ContainerName(svc, taskID)
		g.Go(func() error {
			// A leftover container from an earlier run would block the name.
			_, _ = i.runner.Run(gctx, Command{Name: "docker", Args: []string{"rm", "-f", name}})

			out, err := i.runner.Run(gctx, Command{Name: "docker", Args: runArgs(name, fx)})
			if err != nil {
				return fmt.Errorf("starting %s: %w", svc, err)
			}
			if out.ExitCode != 0 {
				return fmt.Errorf("starting %s: docker run exited %d: %s", svc, out.ExitCode, strings.TrimSpace(out.Text))
			}
			i.logger.Info("fixture started", "service", svc, "container", name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, teardown, err
	}
	i.logger.Debug("fixtures ready", "services", known)
	return env, teardown, nil
}

func runArgs(name string, fx Fixture) []string {
	args := []string{"run", "-d", "--name", name}
	for _, p := range fx.Ports {
		args = append(args, "-p", p)
	}
	args = append(args, envFlags(fx.Env)...)
	return append(args, fx.Image)
}

func envFlags(env map[string]string) []string {
	var out []string
	for _, kv := range envList(env) {
		out = append(out, "-e", kv)
	}
	return out
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, s)
}
