// Package security scans the files a Player touched for leaked secrets and
// risky code, and records the result in security_review.json for the Coach.
//
// Secret detection uses the gitleaks default rule set. A small list of
// pattern rules catches insecure code that is not a secret.
package security

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/Iron-Ham/autobuild/internal/artifact"
	"github.com/Iron-Ham/autobuild/internal/errors"
	"github.com/Iron-Ham/autobuild/internal/logging"
)

// DefaultMaxFileSize skips generated or binary blobs.
const DefaultMaxFileSize = 1 << 20

// Match is one hit from a Detector.
type Match struct {
	RuleID      string
	Description string
	Line        int
}

// Detector finds secrets in file content.
type Detector interface {
	Detect(content string) []Match
}

// gitleaksDetector adapts the gitleaks SDK. The detector keeps per-scan
// state, so calls are serialized.
type gitleaksDetector struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaksDetector loads the gitleaks default configuration.
func NewGitleaksDetector() (Detector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks config: %w", err)
	}
	return &gitleaksDetector{detector: d}, nil
}

func (g *gitleaksDetector) Detect(content string) []Match {
	g.mu.Lock()
	defer g.mu.Unlock()

	findings := g.detector.DetectString(content)
	out := make([]Match, 0, len(findings))
	for _, f := range findings {
		out = append(out, Match{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
	}
	return out
}

// Rule flags insecure code by regular expression.
type Rule struct {
	ID          string
	Severity    artifact.SecuritySeverity
	Description string
	Suggestion  string
	Pattern     *regexp.Regexp
	// Extensions limits the rule to files with these extensions. Empty
	// means every file.
	Extensions []string
}

func (r Rule) appliesTo(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DefaultRules are the code patterns checked alongside secret detection.
var DefaultRules = []Rule{
	{
		ID:          "tls-verification-disabled",
		Severity:    artifact.SecurityHigh,
		Description: "TLS certificate verification disabled",
		Suggestion:  "Keep certificate verification on and trust a test CA instead",
		Pattern:     regexp.MustCompile(`InsecureSkipVerify:\s*true|verify\s*=\s*False|rejectUnauthorized:\s*false`),
	},
	{
		ID:          "shell-injection",
		Severity:    artifact.SecurityHigh,
		Description: "Subprocess invoked through a shell",
		Suggestion:  "Pass an argument list instead of a shell string",
		Pattern:     regexp.MustCompile(`shell\s*=\s*True|os\.system\(`),
		Extensions:  []string{".py"},
	},
	{
		ID:          "unsafe-deserialization",
		Severity:    artifact.SecurityMedium,
		Description: "Deserialization of untrusted data",
		Suggestion:  "Use yaml.safe_load or a schema-validated format",
		Pattern:     regexp.MustCompile(`pickle\.loads?\(|yaml\.load\([^)]*\)$|yaml\.unsafe_load\(`),
		Extensions:  []string{".py"},
	},
	{
		ID:          "eval-call",
		Severity:    artifact.SecurityMedium,
		Description: "Dynamic code evaluation",
		Suggestion:  "Replace eval with explicit parsing",
		Pattern:     regexp.MustCompile(`\beval\(`),
		Extensions:  []string{".py", ".js", ".ts"},
	},
	{
		ID:          "weak-hash",
		Severity:    artifact.SecurityLow,
		Description: "Weak hash function",
		Suggestion:  "Use SHA-256 or better where the hash protects data",
		Pattern:     regexp.MustCompile(`\b(md5|sha1)\.New\(|hashlib\.(md5|sha1)\(`),
	},
}

// Options configures a Scanner. Zero values select defaults.
type Options struct {
	// Fs reads workspace files. Defaults to the OS filesystem.
	Fs          afero.Fs
	Detector    Detector
	Rules       []Rule
	MaxFileSize int64
	Logger      *logging.Logger
	Now         func() time.Time
}

// Scanner reviews the files a turn touched.
type Scanner struct {
	fs       afero.Fs
	store    *artifact.Store
	detector Detector
	rules    []Rule
	maxSize  int64
	logger   *logging.Logger
	now      func() time.Time
}

// NewScanner creates a Scanner that persists reviews to store. Without a
// Detector the gitleaks default configuration is loaded.
func NewScanner(store *artifact.Store, opts Options) (*Scanner, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Detector == nil {
		d, err := NewGitleaksDetector()
		if err != nil {
			return nil, err
		}
		opts.Detector = d
	}
	if opts.Rules == nil {
		opts.Rules = DefaultRules
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scanner{
		fs:       opts.Fs,
		store:    store,
		detector: opts.Detector,
		rules:    opts.Rules,
		maxSize:  opts.MaxFileSize,
		logger:   opts.Logger.With("component", "security"),
		now:      opts.Now,
	}, nil
}

// Scan reviews files, given relative to dir, and writes the review as
// security_review.json. Missing, oversized and out-of-tree files are
// skipped. Secret findings are critical.
func (s *Scanner) Scan(ctx context.Context, dir, taskID string, turn int, files []string) (artifact.SecurityReview, error) {
	logger := s.logger.WithTask(taskID).WithTurn(turn)
	review := artifact.SecurityReview{
		TaskID:    taskID,
		Turn:      turn,
		ScannedAt: s.now(),
		Findings:  []artifact.SecurityFinding{},
	}

	for _, rel := range dedupe(files) {
		if err := ctx.Err(); err != nil {
			return review, errors.Wrap(err, "security scan interrupted")
		}
		content, ok := s.readFile(logger, dir, rel)
		if !ok {
			continue
		}
		review.FilesScanned++
		review.Findings = append(review.Findings, s.scanContent(rel, content)...)
	}
	review.Tally()

	if err := s.store.Write(artifact.KindSecurityReview, taskID, 0, review); err != nil {
		return review, err
	}
	if review.CriticalCount+review.HighCount > 0 {
		logger.Warn("security findings",
			"critical", review.CriticalCount, "high", review.HighCount,
			"medium", review.MediumCount, "low", review.LowCount)
	} else {
		logger.Debug("security scan clean", "files", review.FilesScanned, "findings", len(review.Findings))
	}
	return review, nil
}

func (s *Scanner) readFile(logger *logging.Logger, dir, rel string) (string, bool) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		logger.Warn("skipping file outside workspace", "file", rel)
		return "", false
	}
	path := filepath.Join(dir, clean)

	info, err := s.fs.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Size() > s.maxSize {
		logger.Debug("skipping large file", "file", rel, "size", info.Size())
		return "", false
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		logger.Warn("failed to read file for security scan", "file", rel, "error", err)
		return "", false
	}
	return string(data), true
}

func (s *Scanner) scanContent(file, content string) []artifact.SecurityFinding {
	var out []artifact.SecurityFinding
	for _, m := range s.detector.Detect(content) {
		out = append(out, artifact.SecurityFinding{
			RuleID:      m.RuleID,
			Severity:    artifact.SecurityCritical,
			Description: m.Description,
			File:        file,
			Line:        m.Line,
			Suggestion:  "Remove the secret, rotate it and read it from the environment",
		})
	}

	var lines []string
	for _, r := range s.rules {
		if !r.appliesTo(file) {
			continue
		}
		if lines == nil {
			lines = strings.Split(content, "\n")
		}
		for i, line := range lines {
			if r.Pattern.MatchString(line) {
				out = append(out, artifact.SecurityFinding{
					RuleID:      r.ID,
					Severity:    r.Severity,
					Description: r.Description,
					File:        file,
					Line:        i + 1,
					Suggestion:  r.Suggestion,
				})
			}
		}
	}
	return out
}

func dedupe(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
