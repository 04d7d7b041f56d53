package cmd

import (
	"io"
	"os"
	"sync"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/checkpoint"
	"github.com/Iron-Ham/autobuild/internal/coach"
	"github.com/Iron-Ham/autobuild/internal/config"
	"github.com/Iron-Ham/autobuild/internal/engine"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/event"
	"github.com/Iron-Ham/autobuild/internal/executor"
	"github.com/Iron-Ham/autobuild/internal/logging"
	"github.com/Iron-Ham/autobuild/internal/prompt"
	"github.com/Iron-Ham/autobuild/internal/security"
	"github.com/Iron-Ham/autobuild/internal/worktree"
)

// app holds what every command that touches a repository needs.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	workspaces *worktree.Manager
	bus        *event.Bus
}

// newApp loads the configuration and opens the repository containing the
// working directory.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logging.Options{
		Dir:      cfg.Logging.Dir,
		Level:    cfg.Logging.Level,
		Rotation: cfg.Logging.Rotation(),
	})
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		_ = logger.Close()
		return nil, errors.Wrap(err, "failed to get current directory")
	}
	root, err := worktree.FindGitRoot(cwd)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	workspaces, err := worktree.New(root, worktree.Options{
		Dir:          cfg.Worktree.ResolveDir(root),
		BranchPrefix: cfg.Worktree.BranchPrefix,
		BaseBranch:   cfg.Worktree.BaseBranch,
		Logger:       logger,
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		workspaces: workspaces,
		bus:        event.NewBus(logger),
	}, nil
}

func (a *app) close() {
	_ = a.logger.Close()
}

// store returns the artifact store of a task workspace.
func (a *app) store(ws *worktree.Workspace) *artifact.Store {
	return artifact.NewOSStore(ws.Path, a.cfg.Artifacts.Namespace)
}

// workspace returns an existing task workspace.
func (a *app) workspace(taskID string) (*worktree.Workspace, error) {
	return a.workspaces.Get(taskID)
}

func (a *app) checkpoints(ws *worktree.Workspace, store *artifact.Store) *checkpoint.Manager {
	git := worktree.NewGit(ws.Path, worktree.NewCLICommandExecutor())
	return checkpoint.NewManager(git, store, ws.TaskID, a.logger)
}

func (a *app) validator(ws *worktree.Workspace, store *artifact.Store) *coach.Validator {
	c := a.cfg.Coach
	fixtures := make(map[string]coach.Fixture, len(c.Fixtures))
	for name, f := range c.Fixtures {
		fixtures[name] = coach.Fixture{Image: f.Image, Ports: f.Ports, Env: f.Env, TestEnv: f.TestEnv}
	}
	runner := coach.ExecRunner{}
	return coach.NewValidator(ws.Path, store, coach.Options{
		Gates: coach.GatePolicy{
			ArchitectureThreshold: c.ArchitectureThreshold,
			CoverageThreshold:     c.CoverageThreshold,
		},
		KeywordThreshold: c.KeywordThreshold,
		TestCommand:      c.TestCommand,
		BlockZeroTests:   c.BlockZeroTests,
		SecurityBlocking: a.cfg.Security.BlockOnCritical,
		Runner:           runner,
		Infrastructure:   coach.NewInfrastructure(runner, c.InfrastructureProbe, fixtures, a.cfg.Timeouts.Infrastructure, a.logger),
		Logger:           a.logger,
	})
}

// lockTasks takes the run lock of every task or none of them.
func (a *app) lockTasks(taskIDs ...string) (func(), error) {
	locks := make([]*worktree.RunLock, 0, len(taskIDs))
	release := func() {
		for _, l := range locks {
			if err := l.Release(); err != nil {
				a.logger.Warn("failed to release run lock", "task_id", l.TaskID, "error", err)
			}
		}
	}
	for _, id := range taskIDs {
		l, err := a.workspaces.Lock(id)
		if err != nil {
			release()
			return nil, errors.Wrapf(err, "task %s", id)
		}
		locks = append(locks, l)
	}
	return release, nil
}

// engineOptions are the per-invocation overrides of the run and wave commands.
type engineOptions struct {
	skipPreLoop bool
	// transcript receives the Player's live output, nil discards it.
	transcript io.Writer
}

// newEngine wires an Engine from the configuration.
func (a *app) newEngine(opts engineOptions) (*engine.Engine, error) {
	cfg := a.cfg

	var newScanner func(*artifact.Store) engine.Scanner
	if cfg.Security.Enabled {
		d, err := loadDetector()
		if err != nil {
			return nil, errors.Wrap(err, "load secret detection rules")
		}
		newScanner = func(store *artifact.Store) engine.Scanner {
			s, err := security.NewScanner(store, security.Options{Detector: d, Logger: a.logger})
			if err != nil {
				a.logger.Warn("security scanner unavailable", "error", err)
				return nil
			}
			return s
		}
	}

	return engine.New(engine.Config{
		Workspaces: a.workspaces,
		Executor: executor.New(executor.Options{
			Command:    cfg.Executor.Command,
			Args:       cfg.Executor.Args,
			UsePTY:     cfg.Executor.UsePTY,
			Transcript: opts.transcript,
			Logger:     a.logger,
		}),
		Prompts:  prompt.NewBuilder(prompt.NewCache(), cfg.Executor.TemplateDir),
		NewStore: a.store,
		NewValidator: func(ws *worktree.Workspace, store *artifact.Store) engine.Validator {
			return a.validator(ws, store)
		},
		NewCheckpointer: func(ws *worktree.Workspace, store *artifact.Store) engine.Checkpointer {
			return a.checkpoints(ws, store)
		},
		NewDesignGate: func(store *artifact.Store) engine.DesignGate {
			return &coach.DesignGate{Store: store, ArchitectureThreshold: cfg.Coach.ArchitectureThreshold}
		},
		NewScanner:  newScanner,
		TestCommand: cfg.Coach.TestCommand,
		Options: engine.Options{
			DefaultMaxTurns:       cfg.Loop.DefaultMaxTurns,
			StallThreshold:        cfg.Loop.StallThreshold,
			PerspectiveResetTurns: cfg.Loop.PerspectiveResetTurns,
			PreLoop:               cfg.Loop.EnablePreLoop && !opts.skipPreLoop,
			DesignTimeout:         cfg.Timeouts.Design,
			ImplementTimeout:      cfg.Timeouts.Implement,
			ValidateTimeout:       cfg.Timeouts.Validate,
			PlayerPermission:      cfg.Executor.PlayerPermission,
			PlayerTools:           cfg.Executor.PlayerTools,
			DesignPermission:      cfg.Executor.DesignPermission,
			DesignTools:           cfg.Executor.DesignTools,
			ArchitectureThreshold: cfg.Coach.ArchitectureThreshold,
		},
		Bus:    a.bus,
		Logger: a.logger,
	})
}

// The gitleaks configuration is large; parse it once per process.
var (
	detectorOnce sync.Once
	detector     security.Detector
	detectorErr  error
)

func loadDetector() (security.Detector, error) {
	detectorOnce.Do(func() {
		detector, detectorErr = security.NewGitleaksDetector()
	})
	return detector, detectorErr
}
