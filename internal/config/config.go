package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/autobuild/internal/logging"
)

// Config represents the complete autobuild configuration
type Config struct {
	Loop      LoopConfig     `mapstructure:"loop"`
	Timeouts  TimeoutConfig  `mapstructure:"timeouts"`
	Artifacts ArtifactConfig `mapstructure:"artifacts"`
	Coach     CoachConfig    `mapstructure:"coach"`
	Executor  ExecutorConfig `mapstructure:"executor"`
	Worktree  WorktreeConfig `mapstructure:"worktree"`
	Security  SecurityConfig `mapstructure:"security"`
	History   HistoryConfig  `mapstructure:"history"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Wave      WaveConfig     `mapstructure:"wave"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// LoopConfig controls the Player/Coach turn loop
type LoopConfig struct {
	// DefaultMaxTurns is used when a task declares neither a budget nor a complexity.
	DefaultMaxTurns int `mapstructure:"default_max_turns"`
	// StallThreshold is the number of consecutive identical feedback turns
	// without criteria progress that ends the run as stalled.
	StallThreshold int `mapstructure:"stall_threshold"`
	// PerspectiveResetTurns lists turns on which the Player prompt omits prior feedback.
	PerspectiveResetTurns []int `mapstructure:"perspective_reset_turns"`
	// EnablePreLoop runs the design gate before the first turn.
	EnablePreLoop bool `mapstructure:"enable_pre_loop"`
}

// TimeoutConfig holds the per-invocation-type deadlines
type TimeoutConfig struct {
	// Design bounds the pre-loop design invocation.
	Design time.Duration `mapstructure:"design"`
	// Implement bounds one Player turn.
	Implement time.Duration `mapstructure:"implement"`
	// Validate bounds one Coach validation, including the independent test run.
	Validate time.Duration `mapstructure:"validate"`
	// Infrastructure bounds the availability probe and fixture startup.
	Infrastructure time.Duration `mapstructure:"infrastructure"`
}

// ArtifactConfig controls where turn reports live inside a workspace
type ArtifactConfig struct {
	// Namespace is the directory under the workspace root, e.g. ".autobuild".
	Namespace string `mapstructure:"namespace"`
}

// CoachConfig controls the quality-gate validator
type CoachConfig struct {
	// TestCommand overrides test command detection. Empty means detect from
	// the workspace (go.mod, package.json, pyproject.toml, ...).
	TestCommand string `mapstructure:"test_command"`
	// CoverageThreshold is the minimum line coverage percentage, 0 disables.
	CoverageThreshold float64 `mapstructure:"coverage_threshold"`
	// ArchitectureThreshold is the minimum code review score (0-100).
	ArchitectureThreshold int `mapstructure:"architecture_threshold"`
	// KeywordThreshold is the keyword-overlap ratio for criteria matching.
	KeywordThreshold float64 `mapstructure:"keyword_threshold"`
	// BlockZeroTests turns the zero-test anomaly into a blocking issue.
	BlockZeroTests bool `mapstructure:"block_zero_tests"`
	// InfrastructureProbe is the command that reports whether fixtures can run.
	InfrastructureProbe []string `mapstructure:"infrastructure_probe"`
	// Fixtures maps a declared service name to the container that provides it.
	Fixtures map[string]FixtureConfig `mapstructure:"fixtures"`
}

// FixtureConfig describes one infrastructure fixture container
type FixtureConfig struct {
	Image string            `mapstructure:"image"`
	Ports []string          `mapstructure:"ports"`
	Env   map[string]string `mapstructure:"env"`
	// TestEnv is exported to the independent test run while the fixture is up,
	// e.g. DATABASE_URL.
	TestEnv map[string]string `mapstructure:"test_env"`
}

// ExecutorConfig controls how the Player agent is launched
type ExecutorConfig struct {
	// Command is the agent CLI binary.
	Command string `mapstructure:"command"`
	// Args are passed before the prompt.
	Args []string `mapstructure:"args"`
	// UsePTY runs the agent attached to a pseudo-terminal.
	UsePTY bool `mapstructure:"use_pty"`
	// PlayerPermission is the permission profile for implementation turns.
	PlayerPermission string `mapstructure:"player_permission"`
	// DesignPermission is the permission profile for the pre-loop design turn.
	DesignPermission string `mapstructure:"design_permission"`
	// PlayerTools lists tools the Player may use.
	PlayerTools []string `mapstructure:"player_tools"`
	// DesignTools lists tools the Player may use while designing.
	DesignTools []string `mapstructure:"design_tools"`
	// TemplateDir optionally overrides the built-in prompt templates.
	TemplateDir string `mapstructure:"template_dir"`
}

// WorktreeConfig controls workspace isolation
type WorktreeConfig struct {
	// Dir is where task worktrees are created. Empty means <repo>/.autobuild/worktrees.
	Dir string `mapstructure:"dir"`
	// BranchPrefix names task branches as <prefix>/<task-id>.
	BranchPrefix string `mapstructure:"branch_prefix"`
	// BaseBranch is the branch task worktrees start from. Empty means HEAD.
	BaseBranch string `mapstructure:"base_branch"`
}

// SecurityConfig controls the post-turn secret scan
type SecurityConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BlockOnCritical makes critical findings must_fix issues.
	BlockOnCritical bool `mapstructure:"block_on_critical"`
}

// HistoryConfig controls the run history database
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the sqlite database file. Empty means <config dir>/history.db.
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address for /metrics, e.g. ":9464". Empty disables the endpoint.
	Listen string `mapstructure:"listen"`
}

// WaveConfig controls concurrent multi-task runs
type WaveConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Dir receives debug.log. Empty logs to stderr.
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Rotation converts the logging section to a logging.RotationConfig.
func (l LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
	}
}

// ResolveDir returns the worktree directory for a repository root.
// Relative paths resolve against repoRoot; a leading ~ expands to the home directory.
func (w *WorktreeConfig) ResolveDir(repoRoot string) string {
	if w.Dir == "" {
		return filepath.Join(repoRoot, ".autobuild", "worktrees")
	}

	path := w.Dir
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	return path
}

// ResolvePath returns the history database path.
func (h *HistoryConfig) ResolvePath() string {
	if h.Path != "" {
		return h.Path
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Loop: LoopConfig{
			DefaultMaxTurns:       5,
			StallThreshold:        3,
			PerspectiveResetTurns: []int{3, 5},
			EnablePreLoop:         true,
		},
		Timeouts: TimeoutConfig{
			Design:         15 * time.Minute,
			Implement:      30 * time.Minute,
			Validate:       10 * time.Minute,
			Infrastructure: 2 * time.Minute,
		},
		Artifacts: ArtifactConfig{
			Namespace: ".autobuild",
		},
		Coach: CoachConfig{
			CoverageThreshold:     0,
			ArchitectureThreshold: 60,
			KeywordThreshold:      0.70,
			BlockZeroTests:        false,
			InfrastructureProbe:   []string{"docker", "info"},
			Fixtures:              map[string]FixtureConfig{},
		},
		Executor: ExecutorConfig{
			Command:          "claude",
			Args:             []string{"--print"},
			PlayerPermission: "acceptEdits",
			DesignPermission: "plan",
			PlayerTools:      []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"},
			DesignTools:      []string{"Read", "Write", "Grep", "Glob"},
		},
		Worktree: WorktreeConfig{
			BranchPrefix: "autobuild",
		},
		Security: SecurityConfig{
			Enabled:         true,
			BlockOnCritical: true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Wave: WaveConfig{
			Parallelism: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("loop.default_max_turns", d.Loop.DefaultMaxTurns)
	viper.SetDefault("loop.stall_threshold", d.Loop.StallThreshold)
	viper.SetDefault("loop.perspective_reset_turns", d.Loop.PerspectiveResetTurns)
	viper.SetDefault("loop.enable_pre_loop", d.Loop.EnablePreLoop)

	viper.SetDefault("timeouts.design", d.Timeouts.Design)
	viper.SetDefault("timeouts.implement", d.Timeouts.Implement)
	viper.SetDefault("timeouts.validate", d.Timeouts.Validate)
	viper.SetDefault("timeouts.infrastructure", d.Timeouts.Infrastructure)

	viper.SetDefault("artifacts.namespace", d.Artifacts.Namespace)

	viper.SetDefault("coach.test_command", d.Coach.TestCommand)
	viper.SetDefault("coach.coverage_threshold", d.Coach.CoverageThreshold)
	viper.SetDefault("coach.architecture_threshold", d.Coach.ArchitectureThreshold)
	viper.SetDefault("coach.keyword_threshold", d.Coach.KeywordThreshold)
	viper.SetDefault("coach.block_zero_tests", d.Coach.BlockZeroTests)
	viper.SetDefault("coach.infrastructure_probe", d.Coach.InfrastructureProbe)

	viper.SetDefault("executor.command", d.Executor.Command)
	viper.SetDefault("executor.args", d.Executor.Args)
	viper.SetDefault("executor.use_pty", d.Executor.UsePTY)
	viper.SetDefault("executor.player_permission", d.Executor.PlayerPermission)
	viper.SetDefault("executor.design_permission", d.Executor.DesignPermission)
	viper.SetDefault("executor.player_tools", d.Executor.PlayerTools)
	viper.SetDefault("executor.design_tools", d.Executor.DesignTools)
	viper.SetDefault("executor.template_dir", d.Executor.TemplateDir)

	viper.SetDefault("worktree.dir", d.Worktree.Dir)
	viper.SetDefault("worktree.branch_prefix", d.Worktree.BranchPrefix)
	viper.SetDefault("worktree.base_branch", d.Worktree.BaseBranch)

	viper.SetDefault("security.enabled", d.Security.Enabled)
	viper.SetDefault("security.block_on_critical", d.Security.BlockOnCritical)

	viper.SetDefault("history.enabled", d.History.Enabled)
	viper.SetDefault("history.path", d.History.Path)

	viper.SetDefault("metrics.listen", d.Metrics.Listen)

	viper.SetDefault("wave.parallelism", d.Wave.Parallelism)

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.dir", d.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.compress", d.Logging.Compress)
}

// decodeHook lets config files and AUTOBUILD_* env vars use "90s"-style
// durations and comma-separated lists.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// Load reads the configuration from viper and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autobuild")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autobuild"
	}
	return filepath.Join(home, ".config", "autobuild")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
