package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "loop.stall_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefix characters
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// namespaceRegex allows a relative path of dot-prefixed or plain segments
var namespaceRegex = regexp.MustCompile(`^\.?[a-zA-Z0-9_-]+(/\.?[a-zA-Z0-9_-]+)*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLoop()...)
	errors = append(errors, c.validateTimeouts()...)
	errors = append(errors, c.validateArtifacts()...)
	errors = append(errors, c.validateCoach()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateWorktree()...)
	errors = append(errors, c.validateWave()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateLoop() []ValidationError {
	var errors []ValidationError

	if c.Loop.DefaultMaxTurns < 1 {
		errors = append(errors, ValidationError{
			Field:   "loop.default_max_turns",
			Value:   c.Loop.DefaultMaxTurns,
			Message: "must be at least 1",
		})
	}
	if c.Loop.StallThreshold < 2 {
		errors = append(errors, ValidationError{
			Field:   "loop.stall_threshold",
			Value:   c.Loop.StallThreshold,
			Message: "must be at least 2",
		})
	}
	for _, turn := range c.Loop.PerspectiveResetTurns {
		if turn < 2 {
			errors = append(errors, ValidationError{
				Field:   "loop.perspective_reset_turns",
				Value:   turn,
				Message: "reset turns must be 2 or later (turn 1 has no prior feedback)",
			})
		}
	}

	return errors
}

func (c *Config) validateTimeouts() []ValidationError {
	var errors []ValidationError

	check := func(field string, d time.Duration) {
		if d <= 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   d,
				Message: "must be positive",
			})
		}
	}
	check("timeouts.design", c.Timeouts.Design)
	check("timeouts.implement", c.Timeouts.Implement)
	check("timeouts.validate", c.Timeouts.Validate)
	check("timeouts.infrastructure", c.Timeouts.Infrastructure)

	return errors
}

func (c *Config) validateArtifacts() []ValidationError {
	var errors []ValidationError

	ns := c.Artifacts.Namespace
	if ns == "" || !namespaceRegex.MatchString(ns) || strings.Contains(ns, "..") {
		errors = append(errors, ValidationError{
			Field:   "artifacts.namespace",
			Value:   ns,
			Message: "must be a relative path inside the workspace (e.g. .autobuild)",
		})
	}

	return errors
}

func (c *Config) validateCoach() []ValidationError {
	var errors []ValidationError

	if c.Coach.CoverageThreshold < 0 || c.Coach.CoverageThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "coach.coverage_threshold",
			Value:   c.Coach.CoverageThreshold,
			Message: "must be between 0 and 100",
		})
	}
	if c.Coach.ArchitectureThreshold < 0 || c.Coach.ArchitectureThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "coach.architecture_threshold",
			Value:   c.Coach.ArchitectureThreshold,
			Message: "must be between 0 and 100",
		})
	}
	if c.Coach.KeywordThreshold <= 0 || c.Coach.KeywordThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "coach.keyword_threshold",
			Value:   c.Coach.KeywordThreshold,
			Message: "must be in (0, 1]",
		})
	}
	for name, fx := range c.Coach.Fixtures {
		if fx.Image == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("coach.fixtures.%s.image", name),
				Value:   fx.Image,
				Message: "is required",
			})
		}
	}

	return errors
}

func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Executor.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "executor.command",
			Value:   c.Executor.Command,
			Message: "cannot be empty",
		})
	}

	return errors
}

func (c *Config) validateWorktree() []ValidationError {
	var errors []ValidationError

	if !branchPrefixRegex.MatchString(c.Worktree.BranchPrefix) {
		errors = append(errors, ValidationError{
			Field:   "worktree.branch_prefix",
			Value:   c.Worktree.BranchPrefix,
			Message: "must start with a letter and contain only letters, digits, '-' or '_'",
		})
	}
	if strings.ContainsRune(c.Worktree.Dir, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "worktree.dir",
			Value:   c.Worktree.Dir,
			Message: "path contains invalid null character",
		})
	}

	return errors
}

func (c *Config) validateWave() []ValidationError {
	var errors []ValidationError

	if c.Wave.Parallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "wave.parallelism",
			Value:   c.Wave.Parallelism,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 0 and %d", maxLogSizeMB),
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
