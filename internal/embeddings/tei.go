package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// TEIProvider generates embeddings via a text-embeddings-inference server.
type TEIProvider struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

// NewTEIProvider creates a provider backed by a TEI server.
func NewTEIProvider(cfg Config) (*TEIProvider, error) {
	cfg.ApplyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required for tei provider", ErrInvalidConfig)
	}

	return &TEIProvider{
		config:  cfg,
		client:  &http.Client{Timeout: 60 * time.Second},
		metrics: NewMetrics(zap.NewNop()),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint. Inputs is a
// string for single queries and a []string for batches.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts, batching requests
// according to the configured batch size.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += p.config.BatchSize {
		hi := min(lo+p.config.BatchSize, len(texts))
		batch, err := p.embed(ctx, texts[lo:hi])
		if err != nil {
			genErr = err
			return nil, genErr
		}
		if len(batch) != hi-lo {
			genErr = fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(batch), hi-lo)
			return nil, genErr
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}

	return vectors[0], nil
}

// embed issues one request to the TEI embed endpoint.
func (p *TEIProvider) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := doWithRetry(ctx, p.client, p.config.MaxRetries, p.config.RetryBackoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return vectors, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *TEIProvider) Dimension() int {
	return ModelDimension(p.config.Model)
}

// Close releases provider resources.
func (p *TEIProvider) Close() error {
	return nil
}
