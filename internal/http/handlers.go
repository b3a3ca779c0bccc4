package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/composer"
	"github.com/fyrsmithlabs/tutord/internal/ingest"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/retriever"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
	apiv1 "github.com/fyrsmithlabs/tutord/pkg/api/v1"
)

// handleQuery answers a student question from the indexed textbook.
func (s *Server) handleQuery(c echo.Context) error {
	var req apiv1.QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return writeError(c, http.StatusBadRequest, apiv1.CodeValidation, "invalid request body")
	}

	resp, err := s.querier.Query(c.Request().Context(), orchestrator.Request{
		QueryText:    req.QueryText,
		Mode:         req.QueryMode,
		SelectedText: req.SelectedText,
		MaxResults:   req.MaxResults,
		SessionID:    req.SessionID,
	})
	if err != nil {
		return s.queryError(c, err)
	}

	return c.JSON(http.StatusOK, queryResponse(resp))
}

// queryError maps orchestrator failures onto API error payloads. Validation
// messages go back verbatim so the caller can fix the request; everything
// else gets a generic message and a log line carrying the detail.
func (s *Server) queryError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		return writeError(c, http.StatusBadRequest, apiv1.CodeValidation, err.Error())
	case errors.Is(err, retriever.ErrRetrievalUnavailable):
		s.logger.Error("query failed", zap.Error(err))
		return writeError(c, http.StatusServiceUnavailable, apiv1.CodeUnavailable, "vector store is unavailable")
	case errors.Is(err, composer.ErrComposition):
		s.logger.Error("query failed", zap.Error(err))
		return writeError(c, http.StatusInternalServerError, apiv1.CodeComposition, "answer composition failed")
	default:
		s.logger.Error("query failed", zap.Error(err))
		return writeError(c, http.StatusInternalServerError, apiv1.CodeInternal, "internal error")
	}
}

// handleIngest triggers a corpus ingestion run. Only one run may be active
// at a time; concurrent requests get 409.
func (s *Server) handleIngest(c echo.Context) error {
	var req apiv1.IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return writeError(c, http.StatusBadRequest, apiv1.CodeValidation, "invalid request body")
	}

	if !s.ingestActive.CompareAndSwap(false, true) {
		return writeError(c, http.StatusConflict, apiv1.CodeConflict, "an ingestion run is already in progress")
	}
	defer s.ingestActive.Store(false)

	report, err := s.ingestor.Run(c.Request().Context(), req.Dir)
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return writeError(c, http.StatusServiceUnavailable, apiv1.CodeUnavailable, "vector store is unavailable")
		}
		return writeError(c, http.StatusInternalServerError, apiv1.CodeInternal, "ingestion failed")
	}

	return c.JSON(http.StatusOK, ingestResponse(report))
}

// handleHealth probes each registered dependency and reports per-component
// status.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()

	resp := apiv1.HealthResponse{
		Status:     "ok",
		Version:    s.config.Version,
		Components: make(map[string]apiv1.ComponentHealth, len(s.checks)),
	}

	unavailable := false
	degraded := false
	for _, chk := range s.checks {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		start := time.Now()
		err := chk.Probe(probeCtx)
		cancel()

		comp := apiv1.ComponentHealth{
			Status:    "ok",
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			comp.Status = "error"
			comp.Error = err.Error()
			if chk.Critical {
				unavailable = true
			} else {
				degraded = true
			}
		}
		resp.Components[chk.Name] = comp
	}

	switch {
	case unavailable:
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	case degraded:
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

// queryResponse converts an orchestrator response to the wire shape. The
// citations slice is always non-nil so refusals serialize as [] rather
// than null.
func queryResponse(resp orchestrator.Response) apiv1.QueryResponse {
	citations := make([]apiv1.SourceCitation, 0, len(resp.Answer.Citations))
	for _, ct := range resp.Answer.Citations {
		citations = append(citations, apiv1.SourceCitation{
			ChapterTitle:   ct.ChapterTitle,
			SectionType:    ct.SectionType,
			FilePath:       ct.FilePath,
			RelevanceScore: float64(ct.Score),
		})
	}

	return apiv1.QueryResponse{
		ResponseText:    resp.Answer.Text,
		SourceCitations: citations,
		ConfidenceScore: resp.Answer.Confidence,
		Covered:         resp.Answer.Covered,
		RetrievedChunks: resp.Retrieved,
		SessionID:       resp.SessionID,
	}
}

// ingestResponse converts an ingestion report to the wire shape.
func ingestResponse(report ingest.Report) apiv1.IngestResponse {
	resp := apiv1.IngestResponse{
		ChaptersTotal:  report.ChaptersTotal,
		ChaptersFailed: report.ChaptersFailed,
		EmbeddedCount:  report.EmbeddedCount,
		FailedCount:    report.FailedCount,
		Rev:            report.Rev,
		DurationMS:     report.Duration.Milliseconds(),
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, apiv1.IngestFailure{
			ChapterID: f.ChapterID,
			Path:      f.Path,
			Error:     f.Err,
		})
	}
	return resp
}

// writeError sends a structured API error payload.
func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, apiv1.ErrorBody{Error: apiv1.ErrorDetail{Code: code, Message: message}})
}
