package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/autobuild/internal/errors"
)

func TestTask_Budget(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want int
	}{
		{"explicit wins", Task{MaxTurns: 9, Complexity: ComplexityLow}, 9},
		{"low", Task{Complexity: ComplexityLow}, 3},
		{"medium", Task{Complexity: ComplexityMedium}, 5},
		{"high", Task{Complexity: ComplexityHigh}, 7},
		{"score low", Task{ComplexityScore: 2}, 3},
		{"score medium", Task{ComplexityScore: 6}, 5},
		{"score high", Task{ComplexityScore: 8}, 7},
		{"level beats score", Task{Complexity: ComplexityHigh, ComplexityScore: 1}, 7},
		{"fallback", Task{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Budget(4); got != tt.want {
				t.Errorf("Budget() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTask_Validate(t *testing.T) {
	valid := Task{ID: "TASK-001", Requirements: "add a thing"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	tests := []struct {
		name  string
		task  Task
		field string
	}{
		{"empty id", Task{Requirements: "x"}, "id"},
		{"path id", Task{ID: "../etc", Requirements: "x"}, "id"},
		{"slash id", Task{ID: "a/b", Requirements: "x"}, "id"},
		{"no requirements", Task{ID: "T-1", Requirements: "  "}, "requirements"},
		{"bad complexity", Task{ID: "T-1", Requirements: "x", Complexity: "huge"}, "complexity"},
		{"bad score", Task{ID: "T-1", Requirements: "x", ComplexityScore: 11}, "complexity_score"},
		{"negative turns", Task{ID: "T-1", Requirements: "x", MaxTurns: -1}, "max_turns"},
		{"blank criterion", Task{ID: "T-1", Requirements: "x", AcceptanceCriteria: []string{"ok", ""}}, "acceptance_criteria"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestCriterionID(t *testing.T) {
	if got := CriterionID(0); got != "AC-001" {
		t.Errorf("CriterionID(0) = %q", got)
	}
	if got := CriterionID(11); got != "AC-012" {
		t.Errorf("CriterionID(11) = %q", got)
	}
}

const yamlTask = `id: TASK-042
title: Health endpoint
requirements: |
  Add a /healthz endpoint that reports database connectivity.
acceptance_criteria:
  - GET /healthz returns 200 when the database is reachable
  - GET /healthz returns 503 when the database is down
requires_infrastructure: [postgres]
complexity: medium
`

const tomlTask = `id = "TASK-043"
requirements = "Add retry with backoff to the client"
acceptance_criteria = ["Retries three times", "Backoff doubles each attempt"]
complexity_score = 8
`

func TestParse(t *testing.T) {
	y, err := Parse([]byte(yamlTask), ".yaml")
	if err != nil {
		t.Fatalf("Parse(yaml) = %v", err)
	}
	if y.ID != "TASK-042" || len(y.AcceptanceCriteria) != 2 || !y.RequiresInfra() {
		t.Errorf("yaml task = %+v", y)
	}
	if !strings.HasPrefix(y.Requirements, "Add a /healthz") {
		t.Errorf("Requirements = %q", y.Requirements)
	}
	if y.Budget(5) != 5 {
		t.Errorf("Budget() = %d", y.Budget(5))
	}

	tm, err := Parse([]byte(tomlTask), ".TOML")
	if err != nil {
		t.Fatalf("Parse(toml) = %v", err)
	}
	if tm.Budget(5) != 7 {
		t.Errorf("toml Budget() = %d, want 7", tm.Budget(5))
	}

	js, err := Parse([]byte(`{"id":"T-9","requirements":"do it"}`), ".json")
	if err != nil {
		t.Fatalf("Parse(json) = %v", err)
	}
	if js.ID != "T-9" {
		t.Errorf("json id = %q", js.ID)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
	}{
		{"unknown yaml field", "id: T-1\nrequirements: x\nbogus: 1\n", ".yaml"},
		{"unknown toml field", "id = \"T-1\"\nrequirements = \"x\"\nbogus = 1\n", ".toml"},
		{"invalid json", "{", ".json"},
		{"unsupported ext", "id: T-1", ".md"},
		{"invalid task", "id: T-1\n", ".yml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data), tt.ext); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.toml")
	dup := filepath.Join(dir, "dup.yaml")
	if err := os.WriteFile(a, []byte(yamlTask), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte(tomlTask), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dup, []byte(yamlTask), 0644); err != nil {
		t.Fatal(err)
	}

	tasks, err := LoadAll([]string{a, b})
	if err != nil {
		t.Fatalf("LoadAll() = %v", err)
	}
	if len(tasks) != 2 || tasks[1].ID != "TASK-043" {
		t.Errorf("tasks = %+v", tasks)
	}

	if _, err := LoadAll([]string{a, dup}); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("LoadAll() with duplicate ids = %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
