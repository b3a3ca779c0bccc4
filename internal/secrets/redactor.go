package secrets

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RedactOptions configures a one-shot redaction.
type RedactOptions struct {
	// AllowlistPath is an optional allowlist.toml to merge into the rule set.
	AllowlistPath string
}

// RedactResult contains redacted content and the audit trail.
type RedactResult struct {
	Content string
	Audit   AuditLog
}

// Redact detects secrets in content and replaces them with
// [REDACTED:rule-id:prefix] markers. The markers preserve semantic context
// for embeddings while hiding the secret value.
func Redact(content string, opts RedactOptions) (RedactResult, error) {
	allowlist, err := LoadAllowlist(opts.AllowlistPath)
	if err != nil {
		return RedactResult{}, fmt.Errorf("loading allowlist: %w", err)
	}

	scanner, err := NewScanner(allowlist)
	if err != nil {
		return RedactResult{}, err
	}

	return scanner.Redact(content), nil
}

// Redact scans content and replaces findings with redaction markers.
func (s *Scanner) Redact(content string) RedactResult {
	start := time.Now()

	findings := s.Detect(content)
	audit := buildAuditLog(findings, time.Since(start))

	if len(findings) == 0 {
		return RedactResult{Content: content, Audit: audit}
	}

	return RedactResult{
		Content: replaceFindings(content, findings),
		Audit:   audit,
	}
}

// replaceFindings substitutes markers for secrets, working backwards through
// the findings so earlier replacements do not shift later indices.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")

	for _, finding := range sorted {
		if finding.Line < 1 || finding.Line > len(lines) {
			continue
		}

		line := lines[finding.Line-1]
		marker := fmt.Sprintf("[REDACTED:%s:%s]", finding.RuleID, preview(finding.Match))

		if finding.StartCol >= 0 && finding.EndCol <= len(line) {
			lines[finding.Line-1] = line[:finding.StartCol] + marker + line[finding.EndCol:]
		}
	}

	return strings.Join(lines, "\n")
}

// preview returns the first four characters of a secret for audit markers.
func preview(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:4]
}

func buildAuditLog(findings []Finding, processingTime time.Duration) AuditLog {
	redactions := make([]Redaction, 0, len(findings))
	ruleCounts := make(map[string]int)

	for _, f := range findings {
		redactions = append(redactions, Redaction{
			RuleID:      f.RuleID,
			RuleDesc:    f.RuleDesc,
			LineNumber:  f.Line,
			Column:      f.StartCol,
			OriginalLen: len(f.Match),
			Preview:     preview(f.Match),
		})
		ruleCounts[f.RuleID]++
	}

	return AuditLog{
		Timestamp:  time.Now(),
		Redactions: redactions,
		Summary: Summary{
			TotalSecrets:     len(findings),
			UniqueRules:      len(ruleCounts),
			RuleCounts:       ruleCounts,
			ProcessingTimeMs: processingTime.Milliseconds(),
		},
	}
}
