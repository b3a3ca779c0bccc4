package secrets

import (
	"fmt"
	"regexp"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret with its location.
type Finding struct {
	RuleID   string // Gitleaks rule ID, e.g. "github-pat"
	RuleDesc string // Human-readable description
	Line     int    // 1-based line number
	StartCol int
	EndCol   int
	Match    string // The secret value itself
}

// Scanner detects secrets with a reusable Gitleaks detector. Constructing
// the detector compiles several hundred rules, so ingestion builds one
// Scanner per run rather than one per chunk.
type Scanner struct {
	detector *detect.Detector
}

// NewScanner creates a scanner with the default Gitleaks rule set, merged
// with the optional allowlist.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}

	if allowlist != nil {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	return &Scanner{detector: detector}, nil
}

// Detect scans content and returns findings with position information.
func (s *Scanner) Detect(content string) []Finding {
	gitleaksFindings := s.detector.DetectString(content)

	result := make([]Finding, 0, len(gitleaksFindings))
	for _, f := range gitleaksFindings {
		result = append(result, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}

	return result
}

// Detect scans content with a one-shot detector. Callers scanning many
// chunks should construct a Scanner instead.
func Detect(content string, allowlist *Allowlist) ([]Finding, error) {
	scanner, err := NewScanner(allowlist)
	if err != nil {
		return nil, err
	}
	return scanner.Detect(content), nil
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) error {
	global := &gitleaksconfig.Allowlist{
		Description: "tutord allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: path pattern %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: content pattern %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
