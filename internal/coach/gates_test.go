package coach

import (
	"testing"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

func TestVerifyGates(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *artifact.TaskWorkResults)
		policy  GatePolicy
		want    artifact.GateStatus
		wantAll bool
	}{
		{
			name:    "all passing",
			mutate:  func(*artifact.TaskWorkResults) {},
			wantAll: true,
		},
		{
			name: "all_passed false",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates.AllPassed = boolPtr(false)
			},
		},
		{
			name: "null all_passed falls back to tests_failed",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates.AllPassed = nil
				r.QualityGates.TestsFailed = intPtr(0)
			},
			wantAll: true,
		},
		{
			name: "null all_passed with failures",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates.AllPassed = nil
				r.QualityGates.TestsFailed = intPtr(2)
			},
		},
		{
			name: "no test data",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates = artifact.QualityGates{}
			},
		},
		{
			name: "null coverage_met passes",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates.CoverageMet = nil
			},
			wantAll: true,
		},
		{
			name: "coverage against threshold",
			mutate: func(r *artifact.TaskWorkResults) {
				r.QualityGates.CoverageMet = nil
				r.QualityGates.Coverage = floatPtr(40)
			},
			policy: GatePolicy{CoverageThreshold: 80},
		},
		{
			name: "architecture at threshold",
			mutate: func(r *artifact.TaskWorkResults) {
				r.CodeReview.Score = 60
			},
			wantAll: true,
		},
		{
			name: "architecture below custom threshold",
			mutate: func(r *artifact.TaskWorkResults) {
				r.CodeReview.Score = 70
			},
			policy: GatePolicy{ArchitectureThreshold: 75},
		},
		{
			name: "plan violations",
			mutate: func(r *artifact.TaskWorkResults) {
				r.PlanAudit.Violations = 1
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := passingResults()
			tt.mutate(&r)
			if got := VerifyGates(&r, tt.policy); got.AllPassed() != tt.wantAll {
				t.Errorf("VerifyGates() = %+v, AllPassed want %v", got, tt.wantAll)
			}
		})
	}
}

func TestGateIssues(t *testing.T) {
	r := passingResults()
	r.QualityGates.AllPassed = boolPtr(false)
	r.QualityGates.TestsFailed = intPtr(3)
	r.QualityGates.CoverageMet = boolPtr(false)
	r.CodeReview.Score = 45
	r.PlanAudit.Violations = 2

	g := VerifyGates(&r, GatePolicy{})
	issues := GateIssues(g, &r, GatePolicy{})

	want := []struct {
		typ      string
		severity artifact.Severity
	}{
		{artifact.IssueTestFailure, artifact.SeverityMustFix},
		{artifact.IssueCoverage, artifact.SeverityMustFix},
		{artifact.IssueArchitectural, artifact.SeverityMustFix},
		{artifact.IssuePlanAudit, artifact.SeverityShouldFix},
	}
	if len(issues) != len(want) {
		t.Fatalf("GateIssues() returned %d issues: %+v", len(issues), issues)
	}
	for i, w := range want {
		if issues[i].Type != w.typ || issues[i].Severity != w.severity {
			t.Errorf("issue %d = %s/%s, want %s/%s", i, issues[i].Type, issues[i].Severity, w.typ, w.severity)
		}
	}
	if got := issues[0].Details["failed_count"]; got != 3 {
		t.Errorf("failed_count = %v", got)
	}
	if got := issues[2].Details["threshold"]; got != DefaultArchitectureThreshold {
		t.Errorf("threshold = %v", got)
	}
}

func TestGateIssues_IncompleteSession(t *testing.T) {
	r := passingResults()
	r.QualityGates = artifact.QualityGates{}

	issues := GateIssues(VerifyGates(&r, GatePolicy{}), &r, GatePolicy{})
	if len(issues) != 1 || issues[0].Type != artifact.IssueTestFailure {
		t.Fatalf("GateIssues() = %+v", issues)
	}
	if issues[0].Details["incomplete_session"] != true {
		t.Errorf("details = %v, want incomplete_session", issues[0].Details)
	}
}
