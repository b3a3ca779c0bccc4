package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/composer"
	"github.com/fyrsmithlabs/tutord/internal/retriever"
)

var tracer = otel.Tracer("tutord.orchestrator")

// State is one step of the query state machine.
type State string

const (
	// StateReceived is the initial state before any processing.
	StateReceived State = "received"

	// StateValidated means the request passed input validation.
	StateValidated State = "validated"

	// StateRetrieved means evidence came back from the vector store.
	StateRetrieved State = "retrieved"

	// StateComposed means the answer was composed (or refused).
	StateComposed State = "composed"

	// StateReturned is the terminal state of a successful query.
	StateReturned State = "returned"
)

// States returns the machine's states in execution order.
func States() []State {
	return []State{StateReceived, StateValidated, StateRetrieved, StateComposed, StateReturned}
}

// Request is a raw query from any surface (HTTP, MCP, CLI). Fields arrive
// unvalidated; Query normalizes and checks them.
type Request struct {
	// QueryText is the student's question.
	QueryText string

	// Mode selects the retrieval strategy. Empty defaults to full-book.
	Mode string

	// SelectedText is the highlighted passage, required in selected-text
	// mode.
	SelectedText string

	// MaxResults caps retrieved chunks. Zero means the default of 5.
	MaxResults int

	// SessionID groups related queries. Generated when absent.
	SessionID string
}

// Response is the answer to one query.
type Response struct {
	// Answer holds the response text, citations, confidence, and coverage.
	Answer composer.Answer

	// Retrieved is how many evidence chunks backed the answer.
	Retrieved int

	// SessionID echoes the request's session, generated when it had none.
	SessionID string
}

// QueryRetriever finds evidence for a question.
type QueryRetriever interface {
	Retrieve(ctx context.Context, query string, mode retriever.Mode, selection string, opts retriever.Options) ([]retriever.Evidence, error)
}

// AnswerComposer turns evidence into a grounded answer.
type AnswerComposer interface {
	Compose(ctx context.Context, question string, evidence []retriever.Evidence) (composer.Answer, error)
}

// Orchestrator coordinates retrieval and composition for queries.
type Orchestrator struct {
	retriever QueryRetriever
	composer  AnswerComposer
	logger    *zap.Logger
	metrics   *Metrics
}

// New creates an orchestrator over the given retriever and composer.
func New(ret QueryRetriever, comp AnswerComposer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		retriever: ret,
		composer:  comp,
		logger:    logger,
		metrics:   NewMetrics(logger),
	}
}

// Query runs one request through the state machine. The retriever is only
// consulted after validation, and the composer only after retrieval
// succeeds, so a store outage never costs a chat model call.
func (o *Orchestrator) Query(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Query", trace.WithAttributes(
		attribute.String("query.mode", req.Mode),
	))
	defer span.End()

	start := time.Now()
	state := StateReceived
	advance(span, state)

	defer func() {
		outcome := "covered"
		switch {
		case err != nil:
			outcome = errorOutcome(err)
		case !resp.Answer.Covered:
			outcome = "refused"
		}
		o.metrics.RecordQuery(ctx, outcome, time.Since(start))
	}()

	validated, err := validate(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failedAt(state))
		return Response{}, err
	}
	state = StateValidated
	advance(span, state)

	mode := retriever.Mode(validated.Mode)
	evidence, err := o.retriever.Retrieve(ctx, validated.QueryText, mode, validated.SelectedText, retriever.Options{
		K: validated.MaxResults,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failedAt(state))
		return Response{}, fmt.Errorf("retrieving evidence: %w", err)
	}
	state = StateRetrieved
	advance(span, state)

	answer, err := o.composer.Compose(ctx, validated.QueryText, evidence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failedAt(state))
		return Response{}, fmt.Errorf("composing answer: %w", err)
	}
	state = StateComposed
	advance(span, state)

	resp = Response{
		Answer:    answer,
		Retrieved: len(evidence),
		SessionID: validated.SessionID,
	}
	advance(span, StateReturned)

	span.SetAttributes(
		attribute.Bool("query.covered", answer.Covered),
		attribute.Int("query.retrieved", resp.Retrieved),
		attribute.Float64("query.confidence", answer.Confidence),
	)
	o.logger.Debug("query answered",
		zap.String("session_id", resp.SessionID),
		zap.String("mode", string(mode)),
		zap.Bool("covered", answer.Covered),
		zap.Int("retrieved", resp.Retrieved),
		zap.Float64("confidence", answer.Confidence))

	return resp, nil
}

// advance records a state transition on the span. The attribute always
// holds the last state reached, the events give the timeline.
func advance(span trace.Span, s State) {
	span.SetAttributes(attribute.String("query.state", string(s)))
	span.AddEvent("query.state." + string(s))
}

// failedAt names the last completed state for span status messages.
func failedAt(s State) string {
	return "failed after " + string(s)
}

// errorOutcome buckets an error for the query counter.
func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, retriever.ErrRetrievalUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
