package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	Match    string
}

// Result is redacted content plus what was removed.
type Result struct {
	Content  string
	Findings []Finding
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// Redactor replaces detected secrets with [REDACTED:rule-id] markers.
// It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	paths    []*regexp.Regexp
}

// NewRedactor builds a redactor from the default Gitleaks rules plus an
// optional allowlist.
func NewRedactor(allowlist *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}

	r := &Redactor{detector: detector}
	if allowlist == nil {
		return r, nil
	}

	extra := &gitleaksConfig.Allowlist{Description: "repolens allowlist"}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		extra.Regexes = append(extra.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	extra.StopWords = append(extra.StopWords, allowlist.Regexes...)
	detector.Config.Allowlists = append(detector.Config.Allowlists, extra)

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRegex, pattern, err)
		}
		r.paths = append(r.paths, re)
	}
	return r, nil
}

// Redact scans content from the file at path. Allowlisted paths are
// returned unchanged.
func (r *Redactor) Redact(path, content string) Result {
	for _, re := range r.paths {
		if re.MatchString(path) {
			return Result{Content: content}
		}
	}

	r.mu.Lock()
	raw := r.detector.DetectString(content)
	r.mu.Unlock()

	if len(raw) == 0 {
		return Result{Content: content}
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			Match:    f.Secret,
		})
	}
	return Result{Content: replaceFindings(content, findings), Findings: findings}
}

// replaceFindings substitutes every occurrence of each secret. Longer
// secrets go first so a secret containing another is replaced whole.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})

	for _, f := range sorted {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content
}
