package engine

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Iron-Ham/autobuild/internal/artifact"
)

// DefaultStallThreshold is how many consecutive turns of identical feedback
// end the loop.
const DefaultStallThreshold = 3

// stallGrace extends the threshold while some criteria already pass.
const stallGrace = 2

// Volatile details that change between turns without the underlying
// problem changing. Applied in order.
var signatureScrubbers = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[\w./\-]+\.py::[\w.\[\]\-]+`), "<test>"},
	{regexp.MustCompile(`\bTest\w+`), "<test>"},
	{regexp.MustCompile(`[\w.\-]*(?:/[\w.\-]+)+/?`), "<path>"},
	{regexp.MustCompile(`(?i)\blines?\s*:?\s*\d+`), "line <n>"},
	{regexp.MustCompile(`:\d+(?::\d+)?\b`), ":<n>"},
	{regexp.MustCompile(`\d+(?:\.\d+)?\s*%`), "<pct>"},
	{regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:ms|s|secs?|seconds?|m|mins?|minutes?)\b`), "<dur>"},
	{regexp.MustCompile(`\d+`), "<n>"},
}

var whitespace = regexp.MustCompile(`\s+`)

// FeedbackSignature fingerprints a set of issues so that feedback differing
// only in paths, test names, line numbers, percentages, durations or counts
// compares equal. Issue order does not matter.
func FeedbackSignature(issues []artifact.Issue) string {
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		lines = append(lines, normalizeIssue(issue))
	}
	sort.Strings(lines)
	sum := md5.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])[:8]
}

func normalizeIssue(issue artifact.Issue) string {
	line := fmt.Sprintf("%s|%s|%s", issue.Type, issue.Severity, issue.Description)
	line = whitespace.ReplaceAllString(line, " ")
	for _, s := range signatureScrubbers {
		line = s.pattern.ReplaceAllString(line, s.replacement)
	}
	return strings.ToLower(strings.TrimSpace(line))
}

// StallDetector watches Coach decisions for a loop that keeps receiving
// the same feedback without making progress on acceptance criteria.
type StallDetector struct {
	threshold int
	signature string
	repeats   int
	lastMet   int
}

// NewStallDetector creates a detector. threshold <= 0 selects the default.
func NewStallDetector(threshold int) *StallDetector {
	if threshold <= 0 {
		threshold = DefaultStallThreshold
	}
	return &StallDetector{threshold: threshold}
}

// Observe records one turn's decision and reports whether the loop has
// stalled, with a reason when it has.
func (s *StallDetector) Observe(d artifact.Decision) (bool, string) {
	fb, ok := d.(*artifact.Feedback)
	if !ok {
		s.signature, s.repeats, s.lastMet = "", 0, d.CriteriaMet()
		return false, ""
	}

	sig := FeedbackSignature(fb.Issues)
	met := fb.Met
	grew := met > s.lastMet
	s.lastMet = met

	if grew || sig != s.signature {
		s.signature, s.repeats = sig, 1
		return false, ""
	}
	s.repeats++

	limit := s.threshold
	if met > 0 {
		limit += stallGrace
	}
	if s.repeats < limit {
		return false, ""
	}
	return true, fmt.Sprintf("identical feedback (signature %s) for %d consecutive turns with %d acceptance criteria met",
		sig, s.repeats, met)
}

// Repeats returns how many consecutive turns produced the current signature.
func (s *StallDetector) Repeats() int { return s.repeats }
