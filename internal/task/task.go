// Package task defines the unit of work driven through the Player/Coach loop
// and loads task definitions from YAML, TOML or JSON files.
package task

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

// Complexity is the coarse size of a task, used to derive its turn budget.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Turn budgets per complexity level.
const (
	MaxTurnsLow    = 3
	MaxTurnsMedium = 5
	MaxTurnsHigh   = 7
)

// Task is immutable for the life of one engine run.
type Task struct {
	ID                     string     `yaml:"id" toml:"id" json:"id"`
	Title                  string     `yaml:"title" toml:"title" json:"title,omitempty"`
	Requirements           string     `yaml:"requirements" toml:"requirements" json:"requirements"`
	AcceptanceCriteria     []string   `yaml:"acceptance_criteria" toml:"acceptance_criteria" json:"acceptance_criteria"`
	RequiresInfrastructure []string   `yaml:"requires_infrastructure" toml:"requires_infrastructure" json:"requires_infrastructure,omitempty"`
	Complexity             Complexity `yaml:"complexity" toml:"complexity" json:"complexity,omitempty"`
	// ComplexityScore is an optional 1-10 estimate, used when Complexity is empty.
	ComplexityScore int `yaml:"complexity_score" toml:"complexity_score" json:"complexity_score,omitempty"`
	// MaxTurns overrides any complexity-derived budget when positive.
	MaxTurns int `yaml:"max_turns" toml:"max_turns" json:"max_turns,omitempty"`
	// TestCommand overrides the configured/detected test command for this task.
	TestCommand string `yaml:"test_command" toml:"test_command" json:"test_command,omitempty"`
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks that the task can be used as a path component and has
// something for the Player to implement.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.NewValidationError("task id cannot be empty").WithField("id")
	}
	if !idPattern.MatchString(t.ID) || strings.Contains(t.ID, "..") {
		return errors.NewValidationError("task id may contain only letters, digits, '.', '_' and '-'").
			WithField("id").WithValue(t.ID)
	}
	if strings.TrimSpace(t.Requirements) == "" {
		return errors.NewValidationError("requirements cannot be empty").WithField("requirements")
	}
	switch t.Complexity {
	case "", ComplexityLow, ComplexityMedium, ComplexityHigh:
	default:
		return errors.NewValidationError("complexity must be low, medium or high").
			WithField("complexity").WithValue(string(t.Complexity))
	}
	if t.ComplexityScore < 0 || t.ComplexityScore > 10 {
		return errors.NewValidationError("complexity_score must be between 1 and 10").
			WithField("complexity_score").WithValue(t.ComplexityScore)
	}
	if t.MaxTurns < 0 {
		return errors.NewValidationError("max_turns cannot be negative").
			WithField("max_turns").WithValue(t.MaxTurns)
	}
	for i, ac := range t.AcceptanceCriteria {
		if strings.TrimSpace(ac) == "" {
			return errors.NewValidationError(fmt.Sprintf("acceptance criterion %d is empty", i+1)).
				WithField("acceptance_criteria")
		}
	}
	return nil
}

// RequiresInfra reports whether the task declared any external services.
func (t *Task) RequiresInfra() bool {
	return len(t.RequiresInfrastructure) > 0
}

// LevelForScore maps a 1-10 complexity estimate onto a level.
func LevelForScore(score int) Complexity {
	switch {
	case score <= 0:
		return ""
	case score <= 3:
		return ComplexityLow
	case score <= 6:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

// MaxTurnsFor returns the turn budget for a complexity level, or 0 when the
// level is unknown.
func MaxTurnsFor(c Complexity) int {
	switch c {
	case ComplexityLow:
		return MaxTurnsLow
	case ComplexityMedium:
		return MaxTurnsMedium
	case ComplexityHigh:
		return MaxTurnsHigh
	default:
		return 0
	}
}

// Budget resolves the turn budget: an explicit MaxTurns wins, then the
// complexity level, then the complexity score, then fallback.
func (t *Task) Budget(fallback int) int {
	if t.MaxTurns > 0 {
		return t.MaxTurns
	}
	if n := MaxTurnsFor(t.Complexity); n > 0 {
		return n
	}
	if n := MaxTurnsFor(LevelForScore(t.ComplexityScore)); n > 0 {
		return n
	}
	return fallback
}

// CriterionID returns the completion-promise id for the i-th (0-based)
// acceptance criterion, e.g. AC-001.
func CriterionID(i int) string {
	return fmt.Sprintf("AC-%03d", i+1)
}
