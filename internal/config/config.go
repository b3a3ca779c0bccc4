// Package config provides configuration loading for tutord.
//
// Configuration precedence (highest to lowest): environment variables,
// YAML config file, hardcoded defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"
)

// hostnamePattern matches plain hostnames and IP addresses. Anything with
// whitespace or shell metacharacters is rejected before it can reach a
// connection string.
var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]*[a-zA-Z0-9])?$`)

// Config holds the complete tutord configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Ingestion     IngestionConfig     `koanf:"ingestion"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string `koanf:"cors_origins"`
	QueryRateLimit  float64  `koanf:"query_rate_limit"`
	QueryRateBurst  int      `koanf:"query_rate_burst"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend    string        `koanf:"backend"` // "qdrant" or "chromem"
	Collection string        `koanf:"collection"`
	VectorSize int           `koanf:"vector_size"` // 0 = derive from embedding model
	Qdrant     QdrantConfig  `koanf:"qdrant"`
	Chromem    ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds connection settings for the Qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// ChromemConfig holds settings for the embedded chromem backend.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // "openai", "tei", or "fastembed"
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	BatchSize int    `koanf:"batch_size"`
	CacheDir  string `koanf:"cache_dir"` // fastembed model cache
}

// LLMConfig configures the answer composition client.
type LLMConfig struct {
	Provider    string   `koanf:"provider"` // "openai" or "anthropic"
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	RateBurst   int      `koanf:"rate_burst"`
}

// RetrievalConfig holds retrieval thresholds and weights.
type RetrievalConfig struct {
	K                  int     `koanf:"k"`
	FullBookThreshold  float64 `koanf:"full_book_threshold"`
	SelectionThreshold float64 `koanf:"selection_threshold"`
	VectorWeight       float64 `koanf:"vector_weight"`
	KeywordWeight      float64 `koanf:"keyword_weight"`
	MinCombinedScore   float64 `koanf:"min_combined_score"`
}

// IngestionConfig holds content pipeline settings.
type IngestionConfig struct {
	ContentDir    string   `koanf:"content_dir"`
	BatchSize     int      `koanf:"batch_size"`
	RedactSecrets bool     `koanf:"redact_secrets"`
	AllowlistPath string   `koanf:"allowlist_path"`
	WatchDebounce Duration `koanf:"watch_debounce"`
	ChunkSize     int      `koanf:"chunk_size"`
	ChunkOverlap  int      `koanf:"chunk_overlap"`
}

// LoggingConfig holds top-level logging settings, expanded into a full
// logging.Config at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry export settings.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// Load loads configuration from environment variables with defaults.
// For file-based configuration use LoadWithFile.
//
// Environment variables follow the SECTION_FIELD convention, e.g.
// SERVER_PORT, STORE_BACKEND, EMBEDDINGS_MODEL, LLM_API_KEY.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "localhost"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ShutdownTimeout: Duration(getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)),
			QueryRateLimit:  getEnvFloat("SERVER_QUERY_RATE_LIMIT", 10),
			QueryRateBurst:  getEnvInt("SERVER_QUERY_RATE_BURST", 20),
		},
		Store: StoreConfig{
			Backend:    getEnvString("STORE_BACKEND", "qdrant"),
			Collection: getEnvString("STORE_COLLECTION", "textbook_chapters"),
			VectorSize: getEnvInt("STORE_VECTOR_SIZE", 0),
			Qdrant: QdrantConfig{
				Host:   getEnvString("QDRANT_HOST", "localhost"),
				Port:   getEnvInt("QDRANT_PORT", 6334),
				APIKey: Secret(os.Getenv("QDRANT_API_KEY")),
				UseTLS: getEnvBool("QDRANT_USE_TLS", false),
			},
			Chromem: ChromemConfig{
				Path:     getEnvString("CHROMEM_PATH", "~/.config/tutord/vectorstore"),
				Compress: getEnvBool("CHROMEM_COMPRESS", true),
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  getEnvString("EMBEDDINGS_PROVIDER", "openai"),
			Model:     getEnvString("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			BaseURL:   getEnvString("EMBEDDINGS_BASE_URL", ""),
			APIKey:    Secret(os.Getenv("EMBEDDINGS_API_KEY")),
			BatchSize: getEnvInt("EMBEDDINGS_BATCH_SIZE", 100),
			CacheDir:  getEnvString("EMBEDDINGS_CACHE_DIR", ""),
		},
		LLM: LLMConfig{
			Provider:    getEnvString("LLM_PROVIDER", "openai"),
			Model:       getEnvString("LLM_MODEL", "gpt-4o-mini"),
			BaseURL:     getEnvString("LLM_BASE_URL", ""),
			APIKey:      Secret(os.Getenv("LLM_API_KEY")),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     Duration(getEnvDuration("LLM_TIMEOUT", 60*time.Second)),
			MaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
			RateLimit:   getEnvFloat("LLM_RATE_LIMIT", 50.0/60.0),
			RateBurst:   getEnvInt("LLM_RATE_BURST", 5),
		},
		Retrieval: RetrievalConfig{
			K:                  getEnvInt("RETRIEVAL_K", 5),
			FullBookThreshold:  getEnvFloat("RETRIEVAL_FULL_BOOK_THRESHOLD", 0.70),
			SelectionThreshold: getEnvFloat("RETRIEVAL_SELECTION_THRESHOLD", 0.60),
			VectorWeight:       getEnvFloat("RETRIEVAL_VECTOR_WEIGHT", 0.6),
			KeywordWeight:      getEnvFloat("RETRIEVAL_KEYWORD_WEIGHT", 0.4),
			MinCombinedScore:   getEnvFloat("RETRIEVAL_MIN_COMBINED_SCORE", 0.30),
		},
		Ingestion: IngestionConfig{
			ContentDir:    getEnvString("INGESTION_CONTENT_DIR", "./content"),
			BatchSize:     getEnvInt("INGESTION_BATCH_SIZE", 100),
			RedactSecrets: getEnvBool("INGESTION_REDACT_SECRETS", true),
			AllowlistPath: getEnvString("INGESTION_ALLOWLIST_PATH", ""),
			WatchDebounce: Duration(getEnvDuration("INGESTION_WATCH_DEBOUNCE", 2*time.Second)),
			ChunkSize:     getEnvInt("INGESTION_CHUNK_SIZE", 500),
			ChunkOverlap:  getEnvInt("INGESTION_CHUNK_OVERLAP", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "tutord"),
			Endpoint:        getEnvString("OTEL_ENDPOINT", "localhost:4317"),
			Protocol:        getEnvString("OTEL_PROTOCOL", "grpc"),
			Insecure:        getEnvBool("OTEL_INSECURE", true),
			SampleRate:      getEnvFloat("OTEL_SAMPLE_RATE", 1.0),
		},
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.QueryRateLimit < 0 {
		return errors.New("query rate limit cannot be negative")
	}

	switch c.Store.Backend {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown store backend %q (must be qdrant or chromem)", c.Store.Backend)
	}
	if c.Store.Collection == "" {
		return errors.New("store collection cannot be empty")
	}
	if c.Store.VectorSize < 0 {
		return fmt.Errorf("vector size cannot be negative: %d", c.Store.VectorSize)
	}
	if c.Store.Backend == "qdrant" {
		if c.Store.Qdrant.Host == "" {
			return errors.New("qdrant host cannot be empty")
		}
		if !hostnamePattern.MatchString(c.Store.Qdrant.Host) {
			return fmt.Errorf("invalid qdrant host %q", c.Store.Qdrant.Host)
		}
		if c.Store.Qdrant.Port < 1 || c.Store.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.Store.Qdrant.Port)
		}
	}

	switch c.Embeddings.Provider {
	case "openai", "tei", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize < 1 {
		return fmt.Errorf("embeddings batch size must be positive: %d", c.Embeddings.BatchSize)
	}
	if err := validateBaseURL("embeddings", c.Embeddings.BaseURL); err != nil {
		return err
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm max_tokens must be positive: %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature out of range [0,2]: %v", c.LLM.Temperature)
	}
	if err := validateBaseURL("llm", c.LLM.BaseURL); err != nil {
		return err
	}

	if c.Retrieval.K < 1 || c.Retrieval.K > 20 {
		return fmt.Errorf("retrieval k out of range [1,20]: %d", c.Retrieval.K)
	}
	for name, v := range map[string]float64{
		"full_book_threshold": c.Retrieval.FullBookThreshold,
		"selection_threshold": c.Retrieval.SelectionThreshold,
		"min_combined_score":  c.Retrieval.MinCombinedScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("retrieval %s out of range [0,1]: %v", name, v)
		}
	}
	if w := c.Retrieval.VectorWeight + c.Retrieval.KeywordWeight; w <= 0 {
		return errors.New("retrieval weights must sum to a positive value")
	}

	if c.Ingestion.BatchSize < 1 {
		return fmt.Errorf("ingestion batch size must be positive: %d", c.Ingestion.BatchSize)
	}
	if c.Ingestion.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive: %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, chunk_size): %d", c.Ingestion.ChunkOverlap)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// validateBaseURL rejects non-HTTP schemes. An empty URL is fine, it means
// "use the provider default".
func validateBaseURL(section, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s base_url: %w", section, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid %s base_url scheme %q (must be http or https)", section, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid %s base_url: missing host", section)
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
