package artifact

import "time"

// PromiseStatus is the Player's claim about one acceptance criterion.
type PromiseStatus string

const (
	PromiseComplete   PromiseStatus = "complete"
	PromisePartial    PromiseStatus = "partial"
	PromiseIncomplete PromiseStatus = "incomplete"
)

// Verified reports whether the claim counts toward criteria met. Partial
// work counts.
func (s PromiseStatus) Verified() bool {
	return s == PromiseComplete || s == PromisePartial
}

// CompletionPromise ties a claim to a criterion id such as "AC-001".
type CompletionPromise struct {
	CriterionID  string        `json:"criterion_id"`
	Status       PromiseStatus `json:"status"`
	Evidence     string        `json:"evidence,omitempty"`
	EvidenceType string        `json:"evidence_type,omitempty"`
	TestFile     string        `json:"test_file,omitempty"`
}

// PlayerReport is what the Player writes to player_turn_<N>.json.
type PlayerReport struct {
	TaskID                string              `json:"task_id"`
	Turn                  int                 `json:"turn"`
	FilesModified         []string            `json:"files_modified"`
	FilesCreated          []string            `json:"files_created"`
	TestsWritten          []string            `json:"tests_written"`
	TestsRun              bool                `json:"tests_run"`
	TestsPassed           bool                `json:"tests_passed"`
	ImplementationNotes   string              `json:"implementation_notes"`
	Concerns              []string            `json:"concerns"`
	RequirementsAddressed []string            `json:"requirements_addressed"`
	RequirementsRemaining []string            `json:"requirements_remaining"`
	CompletionPromises    []CompletionPromise `json:"completion_promises,omitempty"`
	Synthetic             bool                `json:"_synthetic,omitempty"`
}

// TouchedFiles returns modified and created files, modified first.
func (r *PlayerReport) TouchedFiles() []string {
	out := make([]string, 0, len(r.FilesModified)+len(r.FilesCreated))
	out = append(out, r.FilesModified...)
	return append(out, r.FilesCreated...)
}

// QualityGates holds the Player's claimed gate results. Pointer fields
// distinguish "not reported" from a zero value.
type QualityGates struct {
	AllPassed   *bool    `json:"all_passed"`
	TestsPassed int      `json:"tests_passed"`
	TestsFailed *int     `json:"tests_failed,omitempty"`
	Coverage    *float64 `json:"coverage"`
	CoverageMet *bool    `json:"coverage_met"`
}

// CodeReview is the architectural review score, 0-100.
type CodeReview struct {
	Score int `json:"score"`
}

// PlanAudit counts deviations from the agreed implementation plan.
type PlanAudit struct {
	Violations int `json:"violations"`
}

// TaskWorkResults is the consolidated claims file the Coach verifies. It
// repeats the Player report fields the Coach reads so that one file is
// enough to validate a turn.
type TaskWorkResults struct {
	TaskID                string              `json:"task_id"`
	Turn                  int                 `json:"turn,omitempty"`
	QualityGates          QualityGates        `json:"quality_gates"`
	CodeReview            CodeReview          `json:"code_review"`
	PlanAudit             PlanAudit           `json:"plan_audit"`
	FilesModified         []string            `json:"files_modified,omitempty"`
	FilesCreated          []string            `json:"files_created,omitempty"`
	TestsWritten          []string            `json:"tests_written,omitempty"`
	RequirementsAddressed []string            `json:"requirements_addressed,omitempty"`
	RequirementsMet       []string            `json:"requirements_met,omitempty"`
	CompletionPromises    []CompletionPromise `json:"completion_promises,omitempty"`
	Synthetic             bool                `json:"_synthetic,omitempty"`
}

// Addressed returns requirements_addressed, falling back to the older
// requirements_met field.
func (r *TaskWorkResults) Addressed() []string {
	if len(r.RequirementsAddressed) > 0 {
		return r.RequirementsAddressed
	}
	return r.RequirementsMet
}

// SecuritySeverity grades a security finding.
type SecuritySeverity string

const (
	SecurityCritical SecuritySeverity = "critical"
	SecurityHigh     SecuritySeverity = "high"
	SecurityMedium   SecuritySeverity = "medium"
	SecurityLow      SecuritySeverity = "low"
)

// SecurityFinding is one issue found by the security scan.
type SecurityFinding struct {
	RuleID      string           `json:"rule_id"`
	Severity    SecuritySeverity `json:"severity"`
	Description string           `json:"description"`
	File        string           `json:"file"`
	Line        int              `json:"line"`
	Suggestion  string           `json:"suggestion,omitempty"`
}

// SecurityReview is persisted to security_review.json after each Player turn.
type SecurityReview struct {
	TaskID        string            `json:"task_id"`
	Turn          int               `json:"turn"`
	ScannedAt     time.Time         `json:"scanned_at"`
	FilesScanned  int               `json:"files_scanned"`
	Findings      []SecurityFinding `json:"findings"`
	CriticalCount int               `json:"critical_count"`
	HighCount     int               `json:"high_count"`
	MediumCount   int               `json:"medium_count"`
	LowCount      int               `json:"low_count"`
}

// Tally recomputes the per-severity counts from Findings.
func (r *SecurityReview) Tally() {
	r.CriticalCount, r.HighCount, r.MediumCount, r.LowCount = 0, 0, 0, 0
	for _, f := range r.Findings {
		switch f.Severity {
		case SecurityCritical:
			r.CriticalCount++
		case SecurityHigh:
			r.HighCount++
		case SecurityMedium:
			r.MediumCount++
		default:
			r.LowCount++
		}
	}
}

// DesignResults is written by the Player during the pre-loop design phase.
type DesignResults struct {
	Plan               string   `json:"plan"`
	Complexity         int      `json:"complexity"`
	ArchitecturalScore int      `json:"architectural_score"`
	CheckpointPassed   bool     `json:"checkpoint_passed"`
	Risks              []string `json:"risks,omitempty"`
}

// RunSummary is written to summary.json when a run finishes.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	TaskID        string    `json:"task_id"`
	Success       bool      `json:"success"`
	FinalDecision string    `json:"final_decision"`
	TotalTurns    int       `json:"total_turns"`
	MaxTurns      int       `json:"max_turns"`
	RollbackCount int       `json:"rollback_count"`
	Conditional   bool      `json:"conditional_approval,omitempty"`
	Workspace     string    `json:"workspace"`
	Branch        string    `json:"branch,omitempty"`
	Error         string    `json:"error,omitempty"`
	Summary       string    `json:"summary"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
