package secrets

import "time"

// AuditLog is the audit trail of redactions for one piece of content. It
// records where secrets were found and under which rules, never the secret
// values themselves.
type AuditLog struct {
	Timestamp  time.Time   `json:"timestamp"`
	FilePath   string      `json:"file_path,omitempty"`
	Redactions []Redaction `json:"redactions"`
	Summary    Summary     `json:"summary"`
}

// Redaction describes a single redacted secret.
type Redaction struct {
	RuleID      string `json:"rule_id"`
	RuleDesc    string `json:"rule_desc"`
	LineNumber  int    `json:"line_number"`
	Column      int    `json:"column"`
	OriginalLen int    `json:"original_len"`
	Preview     string `json:"preview"` // first four characters only
}

// Summary aggregates redaction statistics.
type Summary struct {
	TotalSecrets     int            `json:"total_secrets"`
	UniqueRules      int            `json:"unique_rules"`
	RuleCounts       map[string]int `json:"rule_counts"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// HasRedactions reports whether any secrets were redacted.
func (a *AuditLog) HasRedactions() bool {
	return len(a.Redactions) > 0
}
