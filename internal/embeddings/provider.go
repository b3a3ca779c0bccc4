package embeddings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/tutord/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrFastEmbedNotAvailable indicates the binary was built without CGO
	// and cannot run local ONNX models
	ErrFastEmbedNotAvailable = errors.New("fastembed not available: built without CGO, use the openai or tei provider")
)

// Provider generates embeddings for documents and queries.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the active model.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider selects the backend: "openai" (default), "tei", or "fastembed".
	Provider string

	// Model is the embedding model name. Defaults depend on the provider:
	// text-embedding-3-small for openai, BAAI/bge-small-en-v1.5 otherwise.
	Model string

	// BaseURL overrides the provider endpoint. Optional for openai,
	// required for tei (e.g. http://localhost:8081).
	BaseURL string

	// APIKey authenticates hosted providers. Required for openai.
	APIKey string

	// BatchSize caps the number of texts per embedding request.
	// Default: 100
	BatchSize int

	// MaxRetries is the retry budget for rate limits and server errors.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial retry delay, doubling per attempt.
	// Default: 1s
	RetryBackoff time.Duration

	// CacheDir is the model cache directory (fastembed only).
	// Default: ~/.cache/tutord/models
	CacheDir string
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		switch c.Provider {
		case "openai":
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "BAAI/bge-small-en-v1.5"
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// FromAppConfig builds a provider Config from the top-level application
// settings.
func FromAppConfig(app config.EmbeddingsConfig) Config {
	return Config{
		Provider:  app.Provider,
		Model:     app.Model,
		BaseURL:   app.BaseURL,
		APIKey:    app.APIKey.Value(),
		BatchSize: app.BatchSize,
		CacheDir:  app.CacheDir,
	}
}

// NewProvider creates an embedding provider from the configuration.
func NewProvider(cfg Config) (Provider, error) {
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "tei":
		return NewTEIProvider(cfg)
	case "fastembed":
		return NewFastEmbedProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: openai, tei, fastembed)", ErrInvalidConfig, cfg.Provider)
	}
}

// modelDimensions maps known model names to their embedding dimensions.
var modelDimensions = map[string]int{
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// ModelDimension returns the embedding dimension for a model name.
// Unknown models fall back to a size guess from the name, then to 1536.
func ModelDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "small"), strings.Contains(lower, "mini"):
		return 384
	case strings.Contains(lower, "base"):
		return 768
	case strings.Contains(lower, "large"):
		return 1024
	default:
		return 1536
	}
}

// doWithRetry executes an HTTP request, retrying transport errors, 429s, and
// 5xx responses with exponential backoff. The request is rebuilt per attempt
// so its body can be re-read. Other status codes are returned to the caller.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries int, backoff time.Duration, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w after %d retries: %v", ErrEmbeddingFailed, maxRetries, lastErr)
}
