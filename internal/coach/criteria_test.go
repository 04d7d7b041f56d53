package coach

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

var healthCriteria = []string{
	"GET /health returns 200",
	"Response body is JSON with a status field",
}

func TestCriteriaMatcher_Promises(t *testing.T) {
	r := passingResults()
	promises := []artifact.CompletionPromise{
		{CriterionID: "AC-001", Status: artifact.PromiseComplete, Evidence: "TestHealth"},
		{CriterionID: "AC-002", Status: artifact.PromisePartial, EvidenceType: "manual"},
	}

	got := CriteriaMatcher{}.Match(healthCriteria, &r, promises)
	if got.Strategy != StrategyPromises || got.Met != 2 || got.Total != 2 {
		t.Fatalf("Match() = %+v", got)
	}
	if got.Criteria[0].Tier != TierPromise || got.Criteria[0].Evidence != "TestHealth" {
		t.Errorf("criterion 1 = %+v", got.Criteria[0])
	}
	if !strings.HasPrefix(got.Criteria[1].Evidence, "[Partial confidence - manual]") {
		t.Errorf("partial evidence = %q", got.Criteria[1].Evidence)
	}
}

func TestCriteriaMatcher_IncompletePromiseRejected(t *testing.T) {
	r := passingResults()
	r.RequirementsAddressed = healthCriteria
	promises := []artifact.CompletionPromise{
		{CriterionID: "AC-001", Status: artifact.PromiseComplete},
		{CriterionID: "AC-002", Status: artifact.PromiseIncomplete},
	}

	got := CriteriaMatcher{}.Match(healthCriteria, &r, promises)
	if got.Met != 1 {
		t.Fatalf("Met = %d, want 1: %+v", got.Met, got.Criteria)
	}
	if len(got.Missing) != 1 || got.Missing[0] != healthCriteria[1] {
		t.Errorf("Missing = %v", got.Missing)
	}
}

func TestCriteriaMatcher_HybridFallback(t *testing.T) {
	r := passingResults()
	r.RequirementsAddressed = []string{"- [x] Response body is JSON with a status field"}
	promises := []artifact.CompletionPromise{
		{CriterionID: "AC-001", Status: artifact.PromiseComplete},
	}

	got := CriteriaMatcher{}.Match(healthCriteria, &r, promises)
	if got.Strategy != StrategyHybrid || got.Met != 2 {
		t.Fatalf("Match() = %+v", got)
	}
	if !strings.HasPrefix(got.Criteria[1].Evidence, "[Text fallback]") {
		t.Errorf("evidence = %q", got.Criteria[1].Evidence)
	}
}

func TestCriteriaMatcher_Synthetic(t *testing.T) {
	r := passingResults()
	r.Synthetic = true
	r.RequirementsAddressed = healthCriteria

	got := CriteriaMatcher{}.Match(healthCriteria, &r, nil)
	if got.Strategy != StrategySynthetic || got.Met != 0 || len(got.Missing) != 2 {
		t.Errorf("Match() = %+v", got)
	}

	// Promises recovered for a synthetic report are trusted but never
	// upgraded by text.
	promises := []artifact.CompletionPromise{{CriterionID: "AC-001", Status: artifact.PromiseComplete}}
	got = CriteriaMatcher{}.Match(healthCriteria, &r, promises)
	if got.Strategy != StrategyPromises || got.Met != 1 {
		t.Errorf("Match() with promises = %+v", got)
	}
}

func TestCriteriaMatcher_TextTiers(t *testing.T) {
	tests := []struct {
		name      string
		criterion string
		addressed string
		tier      string
	}{
		{"exact ignoring case", "Add a /health endpoint", "add a /health endpoint", TierExact},
		{"checkbox prefix", "- [ ] Add a /health endpoint", "1. Add a /health endpoint", TierExact},
		{"substring", "Health endpoint", "Implemented the health endpoint with tests", TierSubstring},
		{"keywords", "Validate email addresses before saving users", "Before saving users validate email addresses", TierKeyword},
		{"no match", "Rate limit login attempts", "Added logging middleware", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := artifact.TaskWorkResults{RequirementsAddressed: []string{tt.addressed}}
			got := CriteriaMatcher{}.Match([]string{tt.criterion}, &r, nil)
			if got.Strategy != StrategyText {
				t.Errorf("Strategy = %s", got.Strategy)
			}
			cr := got.Criteria[0]
			if cr.Tier != tt.tier || cr.Met != (tt.tier != "") {
				t.Errorf("criterion = %+v, want tier %q", cr, tt.tier)
			}
		})
	}
}

func TestCriteriaMatcher_RequirementsMetFallback(t *testing.T) {
	r := artifact.TaskWorkResults{RequirementsMet: []string{"GET /health returns 200"}}
	got := CriteriaMatcher{}.Match(healthCriteria[:1], &r, nil)
	if got.Met != 1 {
		t.Errorf("Match() = %+v", got)
	}
}

func TestKeywords(t *testing.T) {
	kw := Keywords("The API should return the user's profile with 200")
	for _, w := range []string{"return", "user's", "profile"} {
		if _, ok := kw[w]; !ok {
			t.Errorf("Keywords() missing %q: %v", w, kw)
		}
	}
	for _, w := range []string{"the", "api", "should", "with", "200"} {
		if _, ok := kw[w]; ok {
			t.Errorf("Keywords() kept %q", w)
		}
	}
}

func TestStripCriterionPrefix(t *testing.T) {
	tests := map[string]string{
		"- [ ] Do it":  "Do it",
		"- [x] Do it":  "Do it",
		"* Do it":      "Do it",
		"12. Do it":    "Do it",
		"3) Do it":     "Do it",
		"  Do it  ":    "Do it",
		"2024 roadmap": "2024 roadmap",
	}
	for in, want := range tests {
		if got := StripCriterionPrefix(in); got != want {
			t.Errorf("StripCriterionPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
