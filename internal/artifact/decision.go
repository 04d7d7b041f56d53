package artifact

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity ranks an Issue. Only must_fix issues block approval.
type Severity string

const (
	SeverityMustFix   Severity = "must_fix"
	SeverityShouldFix Severity = "should_fix"
	SeverityConsider  Severity = "consider"
)

// Issue categories raised by the Coach.
const (
	IssueMissingResults   = "missing_results"
	IssueTestFailure      = "test_failure"
	IssueCoverage         = "coverage"
	IssueArchitectural    = "architectural"
	IssuePlanAudit        = "plan_audit"
	IssueTestVerification = "test_verification"
	IssueRequirements     = "requirements"
	IssueZeroTests        = "zero_tests"
	IssueSecurity         = "security"
	IssueSecuritySummary  = "security_summary"
)

// Issue is one problem the Coach wants the Player to address.
type Issue struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Blocking reports whether the issue prevents approval.
func (i Issue) Blocking() bool { return i.Severity == SeverityMustFix }

// GateStatus is the Coach's view of the Player's claimed quality gates.
type GateStatus struct {
	TestsPassed      bool `json:"tests_passed"`
	CoverageMet      bool `json:"coverage_met"`
	ArchReviewPassed bool `json:"arch_review_passed"`
	PlanAuditPassed  bool `json:"plan_audit_passed"`
	ArchScore        int  `json:"arch_score"`
	PlanViolations   int  `json:"plan_violations"`
}

// AllPassed reports whether every gate passed.
func (g GateStatus) AllPassed() bool {
	return g.TestsPassed && g.CoverageMet && g.ArchReviewPassed && g.PlanAuditPassed
}

// TestVerification records the Coach's independent test run.
type TestVerification struct {
	TestsPassed bool    `json:"tests_passed"`
	Skipped     bool    `json:"skipped,omitempty"`
	TestCommand string  `json:"test_command"`
	Summary     string  `json:"test_output_summary,omitempty"`
	Duration    float64 `json:"duration_seconds"`
	// TestsRun is the number of tests the runner reported, -1 when unknown.
	TestsRun int `json:"tests_run"`
	// Infrastructure fields are set only when the task declares services.
	InfraRequired   bool   `json:"infrastructure_required,omitempty"`
	InfraAvailable  bool   `json:"infrastructure_available,omitempty"`
	Classification  string `json:"failure_classification,omitempty"`
	ClassConfidence string `json:"classification_confidence,omitempty"`
}

// CriterionResult is the verdict on one acceptance criterion.
type CriterionResult struct {
	ID       string `json:"criterion_id"`
	Text     string `json:"criterion_text"`
	Met      bool   `json:"met"`
	Status   string `json:"status"`
	Tier     string `json:"match_tier,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

// RequirementsResult aggregates acceptance-criteria verification.
type RequirementsResult struct {
	Total    int               `json:"criteria_total"`
	Met      int               `json:"criteria_met"`
	Strategy string            `json:"strategy"`
	Missing  []string          `json:"missing,omitempty"`
	Criteria []CriterionResult `json:"criteria,omitempty"`
}

// AllMet reports whether every criterion was verified.
func (r RequirementsResult) AllMet() bool { return r.Met == r.Total }

// ValidationResults is the evidence behind an approval.
type ValidationResults struct {
	QualityGates     GateStatus         `json:"quality_gates"`
	IndependentTests TestVerification   `json:"independent_tests"`
	Requirements     RequirementsResult `json:"requirements"`
	// ApprovedWithoutInfrastructure marks a conditional approval granted
	// because declared services were unavailable.
	ApprovedWithoutInfrastructure bool    `json:"approved_without_infrastructure,omitempty"`
	Advisories                    []Issue `json:"advisories,omitempty"`
}

// Decision is the Coach's verdict for a turn: either *Approval or *Feedback.
// The unexported method closes the set.
type Decision interface {
	Verdict() string
	// CriteriaMet is the number of acceptance criteria verified on the turn.
	CriteriaMet() int
	// TestsPassed is the Coach's own test outcome for the turn, which is
	// what a checkpoint records.
	TestsPassed() bool
	// TestCount is the number of tests the Coach saw run, 0 when unknown.
	TestCount() int
	isDecision()
}

// Verdict values on the wire.
const (
	VerdictApprove  = "approve"
	VerdictFeedback = "feedback"
)

// Approval ends the loop successfully.
type Approval struct {
	Results ValidationResults
}

func (*Approval) Verdict() string     { return VerdictApprove }
func (a *Approval) CriteriaMet() int  { return a.Results.Requirements.Met }
func (a *Approval) TestsPassed() bool { return a.Results.IndependentTests.TestsPassed }
func (a *Approval) TestCount() int    { return max(a.Results.IndependentTests.TestsRun, 0) }
func (*Approval) isDecision()         {}

// Conditional reports whether approval relied on the infrastructure exception.
func (a *Approval) Conditional() bool { return a.Results.ApprovedWithoutInfrastructure }

// Feedback sends issues back to the Player.
type Feedback struct {
	Issues []Issue
	// Met and Total track acceptance-criteria progress for stall detection.
	Met   int
	Total int
	// Gates is set once the Player's claims were read; Tests once the Coach
	// ran the suite itself.
	Gates *GateStatus
	Tests *TestVerification
}

func (*Feedback) Verdict() string    { return VerdictFeedback }
func (f *Feedback) CriteriaMet() int { return f.Met }
func (*Feedback) isDecision()        {}

// TestsPassed prefers the independent run, then the verified gate, and is
// false when the Coach saw neither.
func (f *Feedback) TestsPassed() bool {
	switch {
	case f.Tests != nil:
		return f.Tests.TestsPassed
	case f.Gates != nil:
		return f.Gates.TestsPassed
	}
	return false
}

func (f *Feedback) TestCount() int {
	if f.Tests == nil {
		return 0
	}
	return max(f.Tests.TestsRun, 0)
}

// Blocking returns the must_fix issues.
func (f *Feedback) Blocking() []Issue {
	var out []Issue
	for _, i := range f.Issues {
		if i.Blocking() {
			out = append(out, i)
		}
	}
	return out
}

// CoachRecord is the persisted form of a decision, coach_turn_<N>.json.
type CoachRecord struct {
	TaskID    string
	Turn      int
	Decision  Decision
	Rationale string
	DecidedAt time.Time
}

type progressWire struct {
	Met   int `json:"criteria_met"`
	Total int `json:"criteria_total"`
}

type coachRecordWire struct {
	TaskID            string             `json:"task_id"`
	Turn              int                `json:"turn"`
	Decision          string             `json:"decision"`
	ValidationResults *ValidationResults `json:"validation_results,omitempty"`
	Issues            *[]Issue           `json:"issues,omitempty"`
	Progress          *progressWire      `json:"progress,omitempty"`
	QualityGates      *GateStatus        `json:"quality_gates,omitempty"`
	IndependentTests  *TestVerification  `json:"independent_tests,omitempty"`
	Rationale         string             `json:"rationale,omitempty"`
	DecidedAt         time.Time          `json:"decided_at"`
}

// MarshalJSON writes exactly one of validation_results or issues.
func (r CoachRecord) MarshalJSON() ([]byte, error) {
	w := coachRecordWire{
		TaskID:    r.TaskID,
		Turn:      r.Turn,
		Rationale: r.Rationale,
		DecidedAt: r.DecidedAt,
	}
	switch d := r.Decision.(type) {
	case *Approval:
		w.Decision = VerdictApprove
		results := d.Results
		w.ValidationResults = &results
	case *Feedback:
		w.Decision = VerdictFeedback
		issues := d.Issues
		if issues == nil {
			issues = []Issue{}
		}
		w.Issues = &issues
		w.Progress = &progressWire{Met: d.Met, Total: d.Total}
		w.QualityGates, w.IndependentTests = d.Gates, d.Tests
	default:
		return nil, fmt.Errorf("coach record for turn %d has no decision", r.Turn)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rejects records carrying both or neither payload.
func (r *CoachRecord) UnmarshalJSON(data []byte) error {
	var w coachRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.TaskID, r.Turn, r.Rationale, r.DecidedAt = w.TaskID, w.Turn, w.Rationale, w.DecidedAt

	switch w.Decision {
	case VerdictApprove:
		if w.ValidationResults == nil || w.Issues != nil {
			return fmt.Errorf("approve record must carry validation_results and no issues")
		}
		r.Decision = &Approval{Results: *w.ValidationResults}
	case VerdictFeedback:
		if w.ValidationResults != nil {
			return fmt.Errorf("feedback record must not carry validation_results")
		}
		fb := &Feedback{}
		if w.Issues != nil {
			fb.Issues = *w.Issues
		}
		if w.Progress != nil {
			fb.Met, fb.Total = w.Progress.Met, w.Progress.Total
		}
		fb.Gates, fb.Tests = w.QualityGates, w.IndependentTests
		r.Decision = fb
	default:
		return fmt.Errorf("unknown decision %q", w.Decision)
	}
	return nil
}
