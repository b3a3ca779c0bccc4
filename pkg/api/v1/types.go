// Package v1 defines the public API types for tutord.
//
// These types are shared by the HTTP server, the MCP tool surface, and the
// tutorctl client.
package v1

// Query modes accepted by POST /api/v1/query.
const (
	ModeFullBook     = "full-book"
	ModeSelectedText = "selected-text"
)

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	QueryText    string `json:"query_text"`
	QueryMode    string `json:"query_mode"`
	SelectedText string `json:"selected_text,omitempty"`
	MaxResults   int    `json:"max_results,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// SourceCitation identifies one piece of textbook content an answer is
// grounded on.
type SourceCitation struct {
	ChapterTitle   string  `json:"chapter_title"`
	SectionType    string  `json:"section_type"`
	FilePath       string  `json:"file_path"`
	RelevanceScore float64 `json:"relevance_score"`
}

// QueryResponse is the response body for POST /api/v1/query.
//
// Covered is false when the textbook holds no relevant content; in that case
// ResponseText carries a fixed refusal and SourceCitations is empty.
type QueryResponse struct {
	ResponseText    string           `json:"response_text"`
	SourceCitations []SourceCitation `json:"source_citations"`
	ConfidenceScore float64          `json:"confidence_score"`
	Covered         bool             `json:"covered"`
	RetrievedChunks int              `json:"retrieved_chunks"`
	SessionID       string           `json:"session_id"`
}

// IngestRequest is the request body for POST /api/v1/ingest.
// Dir is optional; the server falls back to its configured content directory.
type IngestRequest struct {
	Dir string `json:"dir,omitempty"`
}

// IngestFailure describes one chapter that could not be ingested.
type IngestFailure struct {
	ChapterID string `json:"chapter_id"`
	Path      string `json:"path"`
	Error     string `json:"error"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	ChaptersTotal  int             `json:"chapters_total"`
	ChaptersFailed int             `json:"chapters_failed"`
	EmbeddedCount  int             `json:"embedded_count"`
	FailedCount    int             `json:"failed_count"`
	Rev            string          `json:"rev,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	Failures       []IngestFailure `json:"failures,omitempty"`
}

// ComponentHealth reports one dependency check.
type ComponentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ErrorBody wraps API error payloads.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
