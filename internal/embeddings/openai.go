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

// defaultOpenAIBaseURL is the hosted embeddings endpoint base.
const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider generates embeddings via the hosted /v1/embeddings API.
type OpenAIProvider struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

// NewOpenAIProvider creates a provider for the hosted embeddings API.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	cfg.ApplyDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required for openai provider", ErrInvalidConfig)
	}

	return &OpenAIProvider{
		config:  cfg,
		client:  &http.Client{Timeout: 60 * time.Second},
		metrics: NewMetrics(zap.NewNop()),
	}, nil
}

// openaiRequest is the request body for the embeddings endpoint.
type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openaiResponse is the embeddings endpoint response body.
type openaiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// openaiError is the error response body.
type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EmbedDocuments generates embeddings for multiple texts, batching requests
// according to the configured batch size.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
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
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		genErr = err
		return nil, genErr
	}

	return vectors[0], nil
}

// embed issues a single embeddings request for one batch of texts.
func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiRequest{Model: p.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := doWithRetry(ctx, p.client, p.config.MaxRetries, p.config.RetryBackoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embeddings", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr openaiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var parsed openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(parsed.Data), len(texts))
	}

	// Place each vector by its index field, not response order.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return ModelDimension(p.config.Model)
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	return nil
}
