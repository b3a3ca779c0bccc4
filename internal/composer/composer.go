package composer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/retriever"
)

var tracer = otel.Tracer("tutord.composer")

// ErrComposition indicates the chat client failed to produce an answer
// after retries.
var ErrComposition = errors.New("answer composition failed")

// refusalText is returned verbatim whenever there is no evidence to ground
// an answer in. Keeping it fixed makes the no-coverage path deterministic.
const refusalText = "I don't have enough information in the textbook to answer this question."

// systemPrompt restricts the model to the supplied context block.
const systemPrompt = `You are a teaching assistant answering questions about a textbook.

Answer questions using ONLY the numbered context sources provided. Follow these rules:

1. Use only information from the provided context sources.
2. If the context does not contain enough information, say "` + refusalText + `"
3. Do not invent information or draw on outside knowledge.
4. Reference sources by number (for example, "According to Source 1...").
5. Be clear, concise, and educational.`

// Answer is a fully formed response to a question. It is only ever returned
// whole: either a grounded answer with citations or a refusal.
type Answer struct {
	Text       string
	Citations  []Citation
	Confidence float64
	Covered    bool
}

// Citation records the provenance of one evidence item an answer was
// grounded in.
type Citation struct {
	ChapterTitle string
	SectionType  string
	FilePath     string
	Score        float32
}

// Composer turns retrieval evidence into grounded answers.
type Composer struct {
	client  ChatClient
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a Composer backed by the given chat client.
func New(client ChatClient, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		client:  client,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
}

// Compose produces an Answer to question from the given evidence.
//
// With no evidence it returns the fixed refusal with Covered=false, empty
// citations, and confidence 0. The chat client is not called in that case.
// Otherwise it prompts the model with the evidence texts as context and
// cites every evidence item in order.
func (c *Composer) Compose(ctx context.Context, question string, evidence []retriever.Evidence) (answer Answer, err error) {
	ctx, span := tracer.Start(ctx, "composer.Compose",
		trace.WithAttributes(attribute.Int("evidence.count", len(evidence))))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "covered"
		switch {
		case err != nil:
			outcome = "error"
		case !answer.Covered:
			outcome = "refused"
		}
		c.metrics.RecordComposition(ctx, outcome, time.Since(start))
	}()

	if len(evidence) == 0 {
		span.SetAttributes(attribute.Bool("covered", false))
		c.logger.Debug("refusing: no evidence above threshold",
			zap.Int("question_len", len(question)))
		return Answer{Text: refusalText, Covered: false}, nil
	}

	contextBlock := buildContext(evidence)

	text, cerr := c.client.Complete(ctx, systemPrompt, buildUserMessage(question, contextBlock))
	if cerr != nil {
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "chat completion failed")
		return Answer{}, fmt.Errorf("%w: %w", ErrComposition, cerr)
	}

	citations := make([]Citation, len(evidence))
	for i, ev := range evidence {
		p := ev.Result.Payload
		citations[i] = Citation{
			ChapterTitle: p.ChapterTitle,
			SectionType:  p.SectionType,
			FilePath:     p.FilePath,
			Score:        ev.Result.Score,
		}
	}

	answer = Answer{
		Text:       text,
		Citations:  citations,
		Covered:    true,
		Confidence: estimateConfidence(evidence[0].Combined, len(citations), len(contextBlock), text),
	}

	span.SetAttributes(
		attribute.Bool("covered", true),
		attribute.Float64("confidence", answer.Confidence),
	)
	c.logger.Debug("composed answer",
		zap.Int("citations", len(citations)),
		zap.Float64("confidence", answer.Confidence),
		zap.Int("answer_len", len(answer.Text)))

	return answer, nil
}

// buildContext formats evidence into a numbered context block, one source
// per chunk with its chapter title, section type, and relevance score.
func buildContext(evidence []retriever.Evidence) string {
	var b strings.Builder
	for i, ev := range evidence {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		p := ev.Result.Payload
		fmt.Fprintf(&b, "[Source %d: %s - %s (relevance: %.2f)]\n%s\n",
			i+1, p.ChapterTitle, p.SectionType, ev.Result.Score, p.Text)
	}
	return b.String()
}

func buildUserMessage(question, contextBlock string) string {
	return fmt.Sprintf(`Context from textbook:

%s

---

Question: %s

Answer the question using ONLY the information from the context above. Cite sources by number where possible.`, contextBlock, question)
}

// uncertaintyMarkers lower the confidence score when they appear in an
// answer. The refusal phrasing is included because the system prompt
// instructs the model to use it when the context falls short.
var uncertaintyMarkers = []string{
	"don't have enough information",
	"i don't know",
	"not sure",
	"unclear",
	"cannot determine",
}

// estimateConfidence derives a confidence score from the retrieval inputs
// and the answer text. The model's own sense of certainty is never
// consulted.
func estimateConfidence(topScore float64, citations, contextChars int, text string) float64 {
	score := 0.5*topScore + 0.2

	if citations > 0 {
		score += 0.2
	}

	lower := strings.ToLower(text)
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			score -= 0.3
			break
		}
	}

	if contextChars > 500 {
		score += 0.1
	}

	return math.Max(0, math.Min(1, score))
}
