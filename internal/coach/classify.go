package coach

import "strings"

// FailureClass says whether a failing test run points at the code or at the
// environment it ran in.
type FailureClass string

const (
	ClassCode           FailureClass = "code"
	ClassInfrastructure FailureClass = "infrastructure"
)

// Confidence grades a classification.
type Confidence string

const (
	ConfidenceHigh      Confidence = "high"
	ConfidenceAmbiguous Confidence = "ambiguous"
	ConfidenceNone      Confidence = "n/a"
)

// Classification is the verdict on one failing test run.
type Classification struct {
	Class      FailureClass
	Confidence Confidence
	// Pattern is the marker that decided the classification, if any.
	Pattern string
}

// Classifier inspects failing test output.
type Classifier interface {
	Classify(output string) Classification
}

// DefaultHighConfidencePatterns identify failures caused by unreachable
// services rather than the code under test.
var DefaultHighConfidencePatterns = []string{
	"ConnectionRefusedError",
	"ConnectionError",
	"Connection refused",
	"could not connect to server",
	"OperationalError",
	"psycopg2",
	"psycopg",
	"asyncpg",
	"sqlalchemy.exc.OperationalError",
	"django.db.utils.OperationalError",
	"pymongo.errors.ServerSelectionTimeoutError",
	"redis.exceptions.ConnectionError",
}

// DefaultAmbiguousPatterns may indicate a missing service client as easily
// as a missing dependency in the code. They never earn conditional approval.
var DefaultAmbiguousPatterns = []string{
	"ModuleNotFoundError",
	"ImportError",
	"No module named",
}

// PatternClassifier matches case-insensitive substrings. High-confidence
// patterns are checked first.
type PatternClassifier struct {
	High      []string
	Ambiguous []string
}

// NewPatternClassifier returns a classifier with the default pattern lists.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{
		High:      DefaultHighConfidencePatterns,
		Ambiguous: DefaultAmbiguousPatterns,
	}
}

// Classify implements Classifier.
func (c *PatternClassifier) Classify(output string) Classification {
	if strings.TrimSpace(output) == "" {
		return Classification{Class: ClassCode, Confidence: ConfidenceNone}
	}
	lower := strings.ToLower(output)
	for _, p := range c.High {
		if strings.Contains(lower, strings.ToLower(p)) {
			return Classification{Class: ClassInfrastructure, Confidence: ConfidenceHigh, Pattern: p}
		}
	}
	for _, p := range c.Ambiguous {
		if strings.Contains(lower, strings.ToLower(p)) {
			return Classification{Class: ClassInfrastructure, Confidence: ConfidenceAmbiguous, Pattern: p}
		}
	}
	return Classification{Class: ClassCode, Confidence: ConfidenceNone}
}
