package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/config"
	"github.com/fyrsmithlabs/tutord/internal/embeddings"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

var tracer = otel.Tracer("tutord.retriever")

// ErrRetrievalUnavailable indicates the vector store could not serve the
// search. It wraps vectorstore.ErrUnavailable so callers can map it to a
// degraded-service response.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeFullBook searches the whole collection against the question alone.
	ModeFullBook Mode = "full-book"

	// ModeSelectedText grounds the search in a passage the student
	// highlighted.
	ModeSelectedText Mode = "selected-text"
)

// Valid reports whether m names a known retrieval mode.
func (m Mode) Valid() bool {
	return m == ModeFullBook || m == ModeSelectedText
}

// Evidence is one retrieved chunk with its ranking scores. Combined is the
// ordering key: in full-book mode it equals the vector score, in
// selected-text mode it blends the vector score with keyword overlap.
type Evidence struct {
	Result   vectorstore.SearchResult
	Overlap  float64
	Combined float64
}

// Options tunes a single retrieval.
type Options struct {
	// K caps the number of hits requested from the store. Zero means the
	// configured default.
	K int

	// Filter restricts the search to matching chunks.
	Filter vectorstore.Filter
}

// Config holds retrieval thresholds and re-ranking weights.
type Config struct {
	// K is the default number of hits requested. Default: 5
	K int

	// FullBookThreshold is the minimum vector score kept in full-book mode.
	// Default: 0.70
	FullBookThreshold float64

	// SelectionThreshold is the minimum vector score kept in selected-text
	// mode before re-ranking. Default: 0.60
	SelectionThreshold float64

	// VectorWeight and KeywordWeight blend the vector score with keyword
	// overlap in selected-text mode. Defaults: 0.6 and 0.4
	VectorWeight  float64
	KeywordWeight float64

	// MinCombinedScore is the floor a blended score must clear to stay in
	// the evidence set. Default: 0.30
	MinCombinedScore float64
}

// FromAppConfig builds a retriever Config from the top-level application
// settings.
func FromAppConfig(app config.RetrievalConfig) Config {
	return Config{
		K:                  app.K,
		FullBookThreshold:  app.FullBookThreshold,
		SelectionThreshold: app.SelectionThreshold,
		VectorWeight:       app.VectorWeight,
		KeywordWeight:      app.KeywordWeight,
		MinCombinedScore:   app.MinCombinedScore,
	}
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.K == 0 {
		c.K = 5
	}
	if c.FullBookThreshold == 0 {
		c.FullBookThreshold = 0.70
	}
	if c.SelectionThreshold == 0 {
		c.SelectionThreshold = 0.60
	}
	if c.VectorWeight == 0 {
		c.VectorWeight = 0.6
	}
	if c.KeywordWeight == 0 {
		c.KeywordWeight = 0.4
	}
	if c.MinCombinedScore == 0 {
		c.MinCombinedScore = 0.30
	}
}

// Retriever searches the vector store for chunks relevant to a question.
type Retriever struct {
	store    vectorstore.Store
	provider embeddings.Provider
	config   Config
	logger   *zap.Logger
}

// New creates a retriever over the given store and embedding provider.
func New(store vectorstore.Store, provider embeddings.Provider, cfg Config, logger *zap.Logger) *Retriever {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		store:    store,
		provider: provider,
		config:   cfg,
		logger:   logger,
	}
}

// Retrieve returns evidence for the question, ordered by combined score
// descending with ties broken by ascending chunk index. Asking for more
// hits than exist returns everything that passed the thresholds. The store
// being down surfaces as ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, mode Mode, selection string, opts Options) (evidence []Evidence, err error) {
	ctx, span := tracer.Start(ctx, "retriever.retrieve", trace.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("k", opts.K),
	))
	defer span.End()

	k := opts.K
	if k <= 0 {
		k = r.config.K
	}

	switch mode {
	case ModeFullBook, "":
		evidence, err = r.retrieveFullBook(ctx, query, k, opts.Filter)
	case ModeSelectedText:
		evidence, err = r.retrieveSelection(ctx, query, selection, k, opts.Filter)
	default:
		err = fmt.Errorf("unknown retrieval mode %q", mode)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}

	sortEvidence(evidence)
	span.SetAttributes(attribute.Int("hits", len(evidence)))

	topScore := 0.0
	if len(evidence) > 0 {
		topScore = evidence[0].Combined
	}
	r.logger.Debug("retrieved evidence",
		zap.String("mode", string(mode)),
		zap.Int("hits", len(evidence)),
		zap.Float64("top_score", topScore))

	return evidence, nil
}

func (r *Retriever) retrieveFullBook(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]Evidence, error) {
	vector, err := r.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.search(ctx, vector, k, filter)
	if err != nil {
		return nil, err
	}

	evidence := make([]Evidence, 0, len(results))
	for _, res := range results {
		if float64(res.Score) < r.config.FullBookThreshold {
			continue
		}
		evidence = append(evidence, Evidence{Result: res, Combined: float64(res.Score)})
	}

	return evidence, nil
}

func (r *Retriever) retrieveSelection(ctx context.Context, query, selection string, k int, filter vectorstore.Filter) ([]Evidence, error) {
	queryVector, err := r.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	selectionVector, err := r.provider.EmbedQuery(ctx, selection)
	if err != nil {
		return nil, fmt.Errorf("embedding selection: %w", err)
	}

	vector, err := averageVectors(queryVector, selectionVector)
	if err != nil {
		return nil, err
	}

	results, err := r.search(ctx, vector, k, filter)
	if err != nil {
		return nil, err
	}

	kept := make([]vectorstore.SearchResult, 0, len(results))
	for _, res := range results {
		if float64(res.Score) >= r.config.SelectionThreshold {
			kept = append(kept, res)
		}
	}
	if len(kept) == 0 {
		return []Evidence{}, nil
	}

	queryTokens := tokenize(query)

	evidence := make([]Evidence, 0, len(kept))
	for _, res := range kept {
		overlap := termOverlap(queryTokens, tokenize(res.Payload.Text))
		combined := r.config.VectorWeight*float64(res.Score) + r.config.KeywordWeight*overlap
		if combined < r.config.MinCombinedScore {
			continue
		}
		evidence = append(evidence, Evidence{Result: res, Overlap: overlap, Combined: combined})
	}

	// Re-ranking can empty the set even though the vector search found
	// grounded hits. Keep the single best vector hit rather than refusing.
	if len(evidence) == 0 {
		top := kept[0]
		for _, res := range kept[1:] {
			if res.Score > top.Score || (res.Score == top.Score && res.Payload.Index < top.Payload.Index) {
				top = res
			}
		}
		overlap := termOverlap(queryTokens, tokenize(top.Payload.Text))
		evidence = append(evidence, Evidence{
			Result:   top,
			Overlap:  overlap,
			Combined: r.config.VectorWeight*float64(top.Score) + r.config.KeywordWeight*overlap,
		})
	}

	return evidence, nil
}

func (r *Retriever) search(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	results, err := r.store.Search(ctx, vector, k, filter)
	if err != nil {
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
		}
		return nil, fmt.Errorf("searching store: %w", err)
	}
	return results, nil
}

// averageVectors returns the element-wise mean of two vectors.
func averageVectors(a, b []float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector length mismatch: %d != %d", len(a), len(b))
	}

	avg := make([]float32, len(a))
	for i := range a {
		avg[i] = (a[i] + b[i]) / 2
	}
	return avg, nil
}

func sortEvidence(evidence []Evidence) {
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].Combined != evidence[j].Combined {
			return evidence[i].Combined > evidence[j].Combined
		}
		return evidence[i].Result.Payload.Index < evidence[j].Result.Payload.Index
	})
}
