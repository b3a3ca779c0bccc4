package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	apiv1 "github.com/fyrsmithlabs/tutord/pkg/api/v1"
)

type textbookQueryInput struct {
	Question     string `json:"question" jsonschema:"required,The student's question about textbook content"`
	Mode         string `json:"mode,omitempty" jsonschema:"Query mode: full-book (default) or selected-text"`
	SelectedText string `json:"selected_text,omitempty" jsonschema:"Highlighted passage (20-2000 words) scoping the answer, required in selected-text mode"`
	MaxResults   int    `json:"max_results,omitempty" jsonschema:"Maximum chunks to retrieve (1-20, default 5)"`
	SessionID    string `json:"session_id,omitempty" jsonschema:"Session identifier grouping related questions"`
}

type textbookQueryOutput struct {
	Answer          string                 `json:"answer" jsonschema:"Grounded answer text, or the fixed refusal when covered is false"`
	Citations       []apiv1.SourceCitation `json:"citations" jsonschema:"Textbook sources the answer is grounded on"`
	Confidence      float64                `json:"confidence" jsonschema:"Confidence score (0-1)"`
	Covered         bool                   `json:"covered" jsonschema:"False when the textbook holds no relevant content"`
	RetrievedChunks int                    `json:"retrieved_chunks" jsonschema:"Number of evidence chunks retrieved"`
	SessionID       string                 `json:"session_id" jsonschema:"Session identifier, generated when absent"`
}

type textbookIngestInput struct {
	Dir string `json:"dir,omitempty" jsonschema:"Textbook content directory (defaults to the configured content dir)"`
}

type textbookIngestOutput struct {
	ChaptersTotal   int     `json:"chapters_total" jsonschema:"Chapters discovered"`
	ChaptersFailed  int     `json:"chapters_failed" jsonschema:"Chapters that failed to ingest"`
	EmbeddedCount   int     `json:"embedded_count" jsonschema:"Chunks embedded and stored"`
	FailedCount     int     `json:"failed_count" jsonschema:"Chunks lost to failures"`
	Rev             string  `json:"rev,omitempty" jsonschema:"Git revision of the ingested content"`
	DurationSeconds float64 `json:"duration_seconds" jsonschema:"Time taken for the ingestion run"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "textbook_query",
		Description: "Ask a question about the textbook. Answers are grounded in indexed chapters with citations; questions the book does not cover get a refusal.",
	}, s.handleTextbookQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "textbook_ingest",
		Description: "Reindex the textbook content directory into the vector store",
	}, s.handleTextbookIngest)
}

func (s *Server) handleTextbookQuery(ctx context.Context, _ *mcp.CallToolRequest, args textbookQueryInput) (*mcp.CallToolResult, textbookQueryOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "textbook_query")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "textbook_query")
		s.metrics.RecordInvocation(ctx, "textbook_query", time.Since(start), toolErr)
	}()

	resp, err := s.querier.Query(ctx, orchestrator.Request{
		QueryText:    args.Question,
		Mode:         args.Mode,
		SelectedText: args.SelectedText,
		MaxResults:   args.MaxResults,
		SessionID:    args.SessionID,
	})
	if err != nil {
		toolErr = fmt.Errorf("textbook query failed: %w", err)
		return nil, textbookQueryOutput{}, toolErr
	}

	citations := make([]apiv1.SourceCitation, 0, len(resp.Answer.Citations))
	for _, ct := range resp.Answer.Citations {
		citations = append(citations, apiv1.SourceCitation{
			ChapterTitle:   ct.ChapterTitle,
			SectionType:    ct.SectionType,
			FilePath:       ct.FilePath,
			RelevanceScore: float64(ct.Score),
		})
	}

	output := textbookQueryOutput{
		Answer:          resp.Answer.Text,
		Citations:       citations,
		Confidence:      resp.Answer.Confidence,
		Covered:         resp.Answer.Covered,
		RetrievedChunks: resp.Retrieved,
		SessionID:       resp.SessionID,
	}

	summary := fmt.Sprintf("Answered with %d citations (confidence %.2f)", len(citations), output.Confidence)
	if !output.Covered {
		summary = "The textbook does not cover this question"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
		},
	}, output, nil
}

func (s *Server) handleTextbookIngest(ctx context.Context, _ *mcp.CallToolRequest, args textbookIngestInput) (*mcp.CallToolResult, textbookIngestOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, "textbook_ingest")
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, "textbook_ingest")
		s.metrics.RecordInvocation(ctx, "textbook_ingest", time.Since(start), toolErr)
	}()

	if !s.ingestActive.CompareAndSwap(false, true) {
		toolErr = fmt.Errorf("an ingestion run is already in progress")
		return nil, textbookIngestOutput{}, toolErr
	}
	defer s.ingestActive.Store(false)

	report, err := s.ingestor.Run(ctx, args.Dir)
	if err != nil {
		toolErr = fmt.Errorf("textbook ingest failed: %w", err)
		return nil, textbookIngestOutput{}, toolErr
	}

	output := textbookIngestOutput{
		ChaptersTotal:   report.ChaptersTotal,
		ChaptersFailed:  report.ChaptersFailed,
		EmbeddedCount:   report.EmbeddedCount,
		FailedCount:     report.FailedCount,
		Rev:             report.Rev,
		DurationSeconds: report.Duration.Seconds(),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Ingested %d chunks from %d chapters (%d failed)", output.EmbeddedCount, output.ChaptersTotal, output.ChaptersFailed)},
		},
	}, output, nil
}
