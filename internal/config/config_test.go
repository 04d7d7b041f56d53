package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Loop.DefaultMaxTurns != 5 {
		t.Errorf("Loop.DefaultMaxTurns = %d, want 5", cfg.Loop.DefaultMaxTurns)
	}
	if cfg.Loop.StallThreshold != 3 {
		t.Errorf("Loop.StallThreshold = %d, want 3", cfg.Loop.StallThreshold)
	}
	if len(cfg.Loop.PerspectiveResetTurns) != 2 || cfg.Loop.PerspectiveResetTurns[0] != 3 {
		t.Errorf("Loop.PerspectiveResetTurns = %v, want [3 5]", cfg.Loop.PerspectiveResetTurns)
	}
	if cfg.Artifacts.Namespace != ".autobuild" {
		t.Errorf("Artifacts.Namespace = %q", cfg.Artifacts.Namespace)
	}
	if cfg.Coach.ArchitectureThreshold != 60 {
		t.Errorf("Coach.ArchitectureThreshold = %d, want 60", cfg.Coach.ArchitectureThreshold)
	}
	if cfg.Coach.KeywordThreshold != 0.70 {
		t.Errorf("Coach.KeywordThreshold = %v, want 0.70", cfg.Coach.KeywordThreshold)
	}
	if cfg.Timeouts.Implement != 30*time.Minute {
		t.Errorf("Timeouts.Implement = %v", cfg.Timeouts.Implement)
	}
	if cfg.Worktree.BranchPrefix != "autobuild" {
		t.Errorf("Worktree.BranchPrefix = %q", cfg.Worktree.BranchPrefix)
	}
}

func TestLoggingConfig_Rotation(t *testing.T) {
	l := LoggingConfig{MaxSizeMB: 7, MaxBackups: 2, Compress: true}
	r := l.Rotation()
	if r.MaxSizeMB != 7 || r.MaxBackups != 2 || !r.Compress {
		t.Errorf("Rotation() = %+v", r)
	}
}

func TestWorktreeConfig_ResolveDir(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{"default", "", filepath.Join("/repo", ".autobuild", "worktrees")},
		{"absolute", "/var/wt", "/var/wt"},
		{"relative", "../wt", filepath.Join("/repo", "../wt")},
		{"home", "~/wt", filepath.Join(home, "wt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WorktreeConfig{Dir: tt.dir}
			if got := w.ResolveDir("/repo"); got != tt.want {
				t.Errorf("ResolveDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/autobuild" {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != "/custom/config/autobuild/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got := ConfigDir(); got != filepath.Join(home, ".config", "autobuild") {
			t.Errorf("ConfigDir() = %q", got)
		}
	})
}

func TestHistoryConfig_ResolvePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	h := HistoryConfig{}
	if got := h.ResolvePath(); got != "/cfg/autobuild/history.db" {
		t.Errorf("ResolvePath() = %q", got)
	}
	h.Path = "/tmp/h.db"
	if got := h.ResolvePath(); got != "/tmp/h.db" {
		t.Errorf("ResolvePath() = %q", got)
	}
}

func TestLoad_DecodesDurationsAndLists(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	viper.Set("timeouts.implement", "90s")
	viper.Set("executor.player_tools", "Read,Write")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Timeouts.Implement != 90*time.Second {
		t.Errorf("Timeouts.Implement = %v, want 90s", cfg.Timeouts.Implement)
	}
	if strings.Join(cfg.Executor.PlayerTools, "|") != "Read|Write" {
		t.Errorf("Executor.PlayerTools = %v", cfg.Executor.PlayerTools)
	}
	if cfg.Timeouts.Validate != 10*time.Minute {
		t.Errorf("Timeouts.Validate default = %v", cfg.Timeouts.Validate)
	}
}

func TestLoad_ReturnsValidationErrors(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	viper.Set("loop.stall_threshold", 1)
	viper.Set("wave.parallelism", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
	}
}

func TestGet_FallsBackToDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()
	viper.Set("logging.level", "chatty")

	cfg := Get()
	if cfg.Logging.Level != "info" {
		t.Errorf("Get().Logging.Level = %q, want default", cfg.Logging.Level)
	}
}
