package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/tutord/internal/config"
)

// Default client settings, applied when Config leaves a field zero.
const (
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultMaxTokens        = 1024
	defaultTemperature      = 0.2
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute, bursts of 5.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultRateBurst = 5
)

// ErrInvalidConfig indicates an unusable chat client configuration.
var ErrInvalidConfig = errors.New("invalid llm configuration")

// ChatClient produces a completion for a system/user prompt pair.
// Implementations rate-limit themselves and retry transient failures.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config holds configuration for creating a chat client.
type Config struct {
	// Provider selects the backend: "openai" (default) or "anthropic".
	Provider string

	// Model is the chat model name. Defaults depend on the provider.
	Model string

	// BaseURL overrides the provider endpoint.
	BaseURL string

	// APIKey authenticates the provider. Required.
	APIKey string

	// MaxTokens caps the completion length. Default: 1024
	MaxTokens int

	// Temperature controls sampling. Default: 0.2
	Temperature float64

	// Timeout bounds a single HTTP round trip. Default: 60s
	Timeout time.Duration

	// MaxRetries is the retry budget for rate limits and server errors.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial retry delay, doubling per attempt.
	// Default: 1s
	RetryBackoff time.Duration

	// RateLimit is the request rate in requests per second.
	// Default: 50/minute
	RateLimit float64

	// RateBurst is the rate limiter burst size. Default: 5
	RateBurst int
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		switch c.Provider {
		case "anthropic":
			c.Model = defaultAnthropicModel
		default:
			c.Model = defaultOpenAIModel
		}
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case "anthropic":
			c.BaseURL = defaultAnthropicBaseURL
		default:
			c.BaseURL = defaultOpenAIBaseURL
		}
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RateLimit == 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.RateBurst == 0 {
		c.RateBurst = defaultRateBurst
	}
}

// FromAppConfig builds a chat client Config from the top-level application
// settings.
func FromAppConfig(app config.LLMConfig) Config {
	return Config{
		Provider:    app.Provider,
		Model:       app.Model,
		BaseURL:     app.BaseURL,
		APIKey:      app.APIKey.Value(),
		MaxTokens:   app.MaxTokens,
		Temperature: app.Temperature,
		Timeout:     app.Timeout.Duration(),
		MaxRetries:  app.MaxRetries,
		RateLimit:   app.RateLimit,
		RateBurst:   app.RateBurst,
	}
}

// NewClient creates a chat client from the configuration.
func NewClient(cfg Config) (ChatClient, error) {
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "openai":
		return newOpenAIChatClient(cfg)
	case "anthropic":
		return newAnthropicChatClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: openai, anthropic)", ErrInvalidConfig, cfg.Provider)
	}
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// completeWithRetry waits for the rate limiter, then runs do with bounded
// retries and exponential backoff. Errors not marked retryable are returned
// immediately.
func completeWithRetry(ctx context.Context, cfg Config, limiter *rate.Limiter, do func(context.Context) (string, error)) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := do(ctx)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// openAIChatClient talks to the OpenAI chat completions API, or anything
// that speaks its wire format.
type openAIChatClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newOpenAIChatClient(cfg Config) (*openAIChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key required", ErrInvalidConfig)
	}

	return &openAIChatClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *openAIChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	return completeWithRetry(ctx, c.config, c.limiter, func(ctx context.Context) (string, error) {
		return c.doRequest(ctx, req)
	})
}

func (c *openAIChatClient) doRequest(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("chat request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("chat api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("chat api error (%d): %s", resp.StatusCode, body)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from chat api")
	}

	return parsed.Choices[0].Message.Content, nil
}

// anthropicChatClient talks to the Anthropic messages API.
type anthropicChatClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newAnthropicChatClient(cfg Config) (*anthropicChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key required", ErrInvalidConfig)
	}

	return &anthropicChatClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      system,
		Messages: []anthropicMessage{
			{Role: "user", Content: user},
		},
	}

	return completeWithRetry(ctx, c.config, c.limiter, func(ctx context.Context) (string, error) {
		return c.doRequest(ctx, req)
	})
}

func (c *anthropicChatClient) doRequest(ctx context.Context, req anthropicRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.config.APIKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("chat request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("chat api error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("chat api error (%d): %s", resp.StatusCode, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty response from chat api")
	}

	return parsed.Content[0].Text, nil
}

var (
	_ ChatClient = (*openAIChatClient)(nil)
	_ ChatClient = (*anthropicChatClient)(nil)
)
