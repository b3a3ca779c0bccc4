// Package secrets detects and redacts credentials in chapter text before it
// leaves the host for external embedding or LLM providers.
//
// Detection uses the Gitleaks SDK with its default rule set. Findings are
// replaced with [REDACTED:rule-id:prefix] markers that keep enough context
// for embeddings to stay useful while hiding the secret itself. Every
// redaction produces an audit entry; the actual secret value is never
// stored, only its rule ID, position, and a four-character preview.
//
// An optional allowlist.toml excludes known-safe patterns, such as the
// placeholder API keys that robotics course material uses in examples.
package secrets
