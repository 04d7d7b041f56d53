package coach

import (
	"fmt"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

// DefaultArchitectureThreshold is the minimum code review score.
const DefaultArchitectureThreshold = 60

// GatePolicy holds the thresholds claimed gates are judged against.
type GatePolicy struct {
	ArchitectureThreshold int
	// CoverageThreshold applies only when the Player reported a coverage
	// figure but no coverage_met verdict. Zero disables it.
	CoverageThreshold float64
}

// VerifyGates evaluates the Player's claimed quality gates.
//
// Tests pass when all_passed is true. A null all_passed falls back to
// tests_failed == 0, and no test data at all counts as failing. A null
// coverage_met counts as passing.
func VerifyGates(r *artifact.TaskWorkResults, policy GatePolicy) artifact.GateStatus {
	qg := r.QualityGates

	var tests bool
	switch {
	case qg.AllPassed != nil:
		tests = *qg.AllPassed
	case qg.TestsFailed != nil:
		tests = *qg.TestsFailed == 0
	}

	coverage := true
	switch {
	case qg.CoverageMet != nil:
		coverage = *qg.CoverageMet
	case qg.Coverage != nil && policy.CoverageThreshold > 0:
		coverage = *qg.Coverage >= policy.CoverageThreshold
	}

	threshold := policy.ArchitectureThreshold
	if threshold <= 0 {
		threshold = DefaultArchitectureThreshold
	}

	return artifact.GateStatus{
		TestsPassed:      tests,
		CoverageMet:      coverage,
		ArchReviewPassed: r.CodeReview.Score >= threshold,
		PlanAuditPassed:  r.PlanAudit.Violations == 0,
		ArchScore:        r.CodeReview.Score,
		PlanViolations:   r.PlanAudit.Violations,
	}
}

// GateIssues returns one issue per failing gate.
func GateIssues(g artifact.GateStatus, r *artifact.TaskWorkResults, policy GatePolicy) []artifact.Issue {
	qg := r.QualityGates
	var issues []artifact.Issue

	if !g.TestsPassed {
		failed := 0
		if qg.TestsFailed != nil {
			failed = *qg.TestsFailed
		}
		if qg.AllPassed == nil && qg.TestsPassed == 0 && failed == 0 {
			issues = append(issues, artifact.Issue{
				Type:        artifact.IssueTestFailure,
				Severity:    artifact.SeverityMustFix,
				Description: "Quality gate evaluation was not completed; the Player session ended before running tests",
				Suggestion:  "Finish the implementation in fewer steps and run the test suite before reporting",
				Details:     map[string]any{"failed_count": 0, "total_count": 0, "incomplete_session": true},
			})
		} else {
			issues = append(issues, artifact.Issue{
				Type:        artifact.IssueTestFailure,
				Severity:    artifact.SeverityMustFix,
				Description: "Tests did not pass during implementation",
				Suggestion:  "Fix the failing tests and re-run the full suite",
				Details:     map[string]any{"failed_count": failed, "total_count": qg.TestsPassed + failed},
			})
		}
	}

	if !g.CoverageMet {
		details := map[string]any{}
		if qg.Coverage != nil {
			details["line_coverage"] = *qg.Coverage
		}
		if policy.CoverageThreshold > 0 {
			details["threshold"] = policy.CoverageThreshold
		}
		issues = append(issues, artifact.Issue{
			Type:        artifact.IssueCoverage,
			Severity:    artifact.SeverityMustFix,
			Description: "Coverage threshold not met",
			Suggestion:  "Add tests for the uncovered code paths",
			Details:     details,
		})
	}

	if !g.ArchReviewPassed {
		threshold := policy.ArchitectureThreshold
		if threshold <= 0 {
			threshold = DefaultArchitectureThreshold
		}
		issues = append(issues, artifact.Issue{
			Type:        artifact.IssueArchitectural,
			Severity:    artifact.SeverityMustFix,
			Description: fmt.Sprintf("Architectural review score %d is below threshold %d", g.ArchScore, threshold),
			Suggestion:  "Address the code review findings before resubmitting",
			Details:     map[string]any{"score": g.ArchScore, "threshold": threshold},
		})
	}

	if !g.PlanAuditPassed {
		issues = append(issues, artifact.Issue{
			Type:        artifact.IssuePlanAudit,
			Severity:    artifact.SeverityShouldFix,
			Description: fmt.Sprintf("Plan audit detected %d violation(s)", g.PlanViolations),
			Suggestion:  "Bring the implementation back in line with the agreed plan or document the deviation",
			Details:     map[string]any{"violations": g.PlanViolations},
		})
	}

	return issues
}
