package coach

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/task"
)

// Matching strategies recorded on RequirementsResult.
const (
	StrategyPromises  = "promises"
	StrategyHybrid    = "hybrid"
	StrategyText      = "text"
	StrategySynthetic = "synthetic"
)

// Match tiers recorded on each verified criterion.
const (
	TierPromise   = "promise"
	TierExact     = "exact"
	TierSubstring = "substring"
	TierKeyword   = "keyword"
)

const (
	statusVerified = "verified"
	statusRejected = "rejected"
)

// DefaultKeywordThreshold is the Jaccard similarity a keyword match needs.
const DefaultKeywordThreshold = 0.70

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and is or a an for with to in of from by on at that this
		are be do have has as if can will would could should may must was were been but not no all
		some any more most only than then there their who which when where how`) {
		stopwords[w] = struct{}{}
	}
}

// CriteriaMatcher decides which acceptance criteria a turn satisfied.
type CriteriaMatcher struct {
	// KeywordThreshold is the minimum keyword overlap for the keyword tier.
	KeywordThreshold float64
}

// Match verifies criteria from the Player's completion promises, falling
// back to text matching against requirements_addressed. Synthetic reports
// without promises satisfy nothing.
func (m CriteriaMatcher) Match(criteria []string, results *artifact.TaskWorkResults, promises []artifact.CompletionPromise) artifact.RequirementsResult {
	if results.Synthetic && len(promises) == 0 {
		return allUnmet(criteria, StrategySynthetic, "synthetic report carries no completion promises")
	}
	if len(promises) > 0 {
		res := matchPromises(criteria, promises)
		if res.AllMet() || results.Synthetic {
			return res
		}
		if addressed := results.Addressed(); len(addressed) > 0 {
			return m.hybrid(res, criteria, addressed)
		}
		return res
	}
	return m.matchText(criteria, results.Addressed())
}

func matchPromises(criteria []string, promises []artifact.CompletionPromise) artifact.RequirementsResult {
	byID := make(map[string]artifact.CompletionPromise, len(promises))
	for _, p := range promises {
		if p.CriterionID != "" {
			byID[p.CriterionID] = p
		}
	}

	res := artifact.RequirementsResult{Total: len(criteria), Strategy: StrategyPromises}
	for i, text := range criteria {
		id := task.CriterionID(i)
		cr := artifact.CriterionResult{ID: id, Text: text, Status: statusRejected}

		p, ok := byID[id]
		switch {
		case ok && p.Status == artifact.PromiseComplete:
			cr.Met, cr.Status, cr.Tier = true, statusVerified, TierPromise
			cr.Evidence = orDefault(p.Evidence, "Player completed "+id)
		case ok && p.Status == artifact.PromisePartial:
			cr.Met, cr.Status, cr.Tier = true, statusVerified, TierPromise
			cr.Evidence = fmt.Sprintf("[Partial confidence - %s] %s",
				orDefault(p.EvidenceType, "unknown"), orDefault(p.Evidence, "Player partially completed "+id))
		case ok:
			cr.Evidence = fmt.Sprintf("Promise status: %s", orDefault(string(p.Status), "unknown"))
		default:
			cr.Evidence = "No completion promise for " + id
		}
		appendCriterion(&res, cr)
	}
	return res
}

// hybrid upgrades criteria that had no promise at all when text matching
// verifies them. An explicit incomplete promise is trusted over text.
func (m CriteriaMatcher) hybrid(promised artifact.RequirementsResult, criteria, addressed []string) artifact.RequirementsResult {
	text := m.matchText(criteria, addressed)

	res := artifact.RequirementsResult{Total: len(criteria), Strategy: StrategyHybrid}
	for i, pcr := range promised.Criteria {
		tcr := text.Criteria[i]
		if !pcr.Met && tcr.Met && strings.HasPrefix(pcr.Evidence, "No completion promise") {
			tcr.Evidence = "[Text fallback] " + tcr.Evidence
			appendCriterion(&res, tcr)
			continue
		}
		appendCriterion(&res, pcr)
	}
	return res
}

func (m CriteriaMatcher) matchText(criteria, addressed []string) artifact.RequirementsResult {
	threshold := m.KeywordThreshold
	if threshold <= 0 {
		threshold = DefaultKeywordThreshold
	}

	stripped := make([]string, len(addressed))
	normalized := make(map[string]struct{}, len(addressed))
	for i, a := range addressed {
		stripped[i] = StripCriterionPrefix(a)
		normalized[strings.ToLower(stripped[i])] = struct{}{}
	}

	res := artifact.RequirementsResult{Total: len(criteria), Strategy: StrategyText}
	for i, text := range criteria {
		cr := artifact.CriterionResult{
			ID:       task.CriterionID(i),
			Text:     text,
			Status:   statusRejected,
			Evidence: "Not found in Player requirements_addressed",
		}
		want := strings.ToLower(StripCriterionPrefix(text))

		if _, ok := normalized[want]; ok && want != "" {
			cr.Met, cr.Tier = true, TierExact
			cr.Evidence = fmt.Sprintf("Matched in Player requirements_addressed: '%s'", text)
		}
		if !cr.Met && want != "" {
			for _, got := range stripped {
				g := strings.ToLower(got)
				if g != "" && (strings.Contains(g, want) || strings.Contains(want, g)) {
					cr.Met, cr.Tier = true, TierSubstring
					cr.Evidence = fmt.Sprintf("Substring match with '%s'", got)
					break
				}
			}
		}
		if !cr.Met {
			if kw := Keywords(text); len(kw) > 0 {
				best, bestText := 0.0, ""
				for _, got := range stripped {
					if score := jaccard(kw, Keywords(got)); score > best {
						best, bestText = score, got
					}
				}
				if best >= threshold {
					cr.Met, cr.Tier = true, TierKeyword
					cr.Evidence = fmt.Sprintf("Keyword overlap match (%.0f%% similarity) with '%s'", best*100, bestText)
				}
			}
		}
		if cr.Met {
			cr.Status = statusVerified
		}
		appendCriterion(&res, cr)
	}
	return res
}

func allUnmet(criteria []string, strategy, reason string) artifact.RequirementsResult {
	res := artifact.RequirementsResult{Total: len(criteria), Strategy: strategy}
	for i, text := range criteria {
		appendCriterion(&res, artifact.CriterionResult{
			ID:       task.CriterionID(i),
			Text:     text,
			Status:   statusRejected,
			Evidence: reason,
		})
	}
	return res
}

// StripCriterionPrefix removes markdown checkbox, bullet and numbering
// prefixes such as "- [ ] ", "* " or "2) ".
func StripCriterionPrefix(text string) string {
	s := strings.TrimSpace(text)
	for _, p := range []string{"- [ ] ", "- [x] ", "* "} {
		if strings.HasPrefix(s, p) {
			return strings.TrimSpace(s[len(p):])
		}
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && (strings.HasPrefix(s[i:], ". ") || strings.HasPrefix(s[i:], ") ")) {
		return strings.TrimSpace(s[i+2:])
	}
	return s
}

// Keywords lowercases text and keeps words longer than three characters
// that are not stopwords and contain at least one letter.
func Keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if strings.IndexFunc(w, unicode.IsLetter) >= 0 {
			out[w] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func appendCriterion(res *artifact.RequirementsResult, cr artifact.CriterionResult) {
	res.Criteria = append(res.Criteria, cr)
	if cr.Met {
		res.Met++
	} else {
		res.Missing = append(res.Missing, cr.Text)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
