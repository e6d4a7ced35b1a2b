// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	AppEnv      string
	FrontendURL string
	DBPath      string
	LogLevel    string

	LLM       LLMConfig
	Search    SearchConfig
	Embedding EmbeddingConfig
	Cache     CacheConfig
	Agent     AgentConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig

	GRPCHealthAddr  string
	CatalogSeedFile string
	SessionIdleTTL  time.Duration
	SweepInterval   time.Duration
	ConversationLog ConversationLogConfig
}

// LLMConfig selects the chat model provider.
type LLMConfig struct {
	Provider        string // openai|gemini
	BaseURL         string
	APIKey          string
	GoogleAPIKey    string
	Model           string
	ExtractionModel string
	Timeout         time.Duration
}

// SearchConfig configures the web search client.
type SearchConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Provider  string // lexical|ollama|genai
	OllamaURL string
	Model     string
	CacheSize int
}

// CacheConfig selects the semantic cache backend and its policy tables.
type CacheConfig struct {
	Backend             string // sqlite|langcache|none
	SimilarityThreshold float64
	PolicyFile          string
	LangCacheURL        string
	LangCacheID         string
	LangCacheAPIKey     string
	LookupTimeout       time.Duration
}

// AgentConfig bounds a single turn.
type AgentConfig struct {
	MaxIterations  int
	ToolTimeout    time.Duration
	PersistTimeout time.Duration
}

// HTTPConfig tunes the HTTP surface.
type HTTPConfig struct {
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	MaxRequestBodyBytes int64
	JWTSecret           string
	JWTIssuer           string
	JWTAudience         string
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	TracesExporter  string
	MetricsExporter string
	SampleRatio     float64
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// source resolves a key from the environment first, then from the
// optional config file.
type source struct {
	file *viper.Viper
}

// Load reads configuration from environment variables and the optional
// file named by CONFIG_FILE.
func Load() (*Config, error) {
	src := source{}
	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		src.file = v
	}

	cfg := src.load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (s source) load() *Config {
	queueSize := s.getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Config{
		Port:        s.getEnv("PORT", "8080"),
		AppEnv:      s.getEnv("APP_ENV", ""),
		FrontendURL: s.getEnv("FRONTEND_URL", ""),
		DBPath:      s.getEnv("DB_PATH", "./data/smartrecall.db"),
		LogLevel:    s.getEnv("LOG_LEVEL", "info"),
		LLM: LLMConfig{
			Provider:        strings.ToLower(s.getEnv("LLM_PROVIDER", "openai")),
			BaseURL:         s.getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:          s.getEnv("LLM_API_KEY", ""),
			GoogleAPIKey:    s.getEnv("GOOGLE_API_KEY", ""),
			Model:           s.getEnv("LLM_MODEL", "gpt-4o-mini"),
			ExtractionModel: s.getEnv("LLM_EXTRACTION_MODEL", "gpt-4o-mini"),
			Timeout:         s.getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Search: SearchConfig{
			APIKey:     s.getEnv("SEARCH_API_KEY", ""),
			BaseURL:    s.getEnv("SEARCH_BASE_URL", "https://api.tavily.com"),
			MaxResults: s.getEnvInt("SEARCH_MAX_RESULTS", 3),
		},
		Embedding: EmbeddingConfig{
			Provider:  strings.ToLower(s.getEnv("EMBEDDING_PROVIDER", "lexical")),
			OllamaURL: s.getEnv("OLLAMA_URL", "http://localhost:11434"),
			Model:     s.getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			CacheSize: s.getEnvInt("EMBEDDING_CACHE_SIZE", 1000),
		},
		Cache: CacheConfig{
			Backend:             strings.ToLower(s.getEnv("CACHE_BACKEND", "sqlite")),
			SimilarityThreshold: s.getEnvFloat("CACHE_SIMILARITY_THRESHOLD", 0.9),
			PolicyFile:          s.getEnv("CACHE_POLICY_FILE", ""),
			LangCacheURL:        s.getEnv("LANGCACHE_URL", ""),
			LangCacheID:         s.getEnv("LANGCACHE_CACHE_ID", ""),
			LangCacheAPIKey:     s.getEnv("LANGCACHE_API_KEY", ""),
			LookupTimeout:       s.getEnvDuration("CACHE_LOOKUP_TIMEOUT", 5*time.Second),
		},
		Agent: AgentConfig{
			MaxIterations:  s.getEnvInt("AGENT_MAX_ITERATIONS", 8),
			ToolTimeout:    s.getEnvDuration("TOOL_TIMEOUT", 10*time.Second),
			PersistTimeout: s.getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
		},
		HTTP: HTTPConfig{
			RateLimitRequests:   s.getEnvInt("RATE_LIMIT_REQUESTS", 20),
			RateLimitWindow:     s.getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			MaxRequestBodyBytes: int64(s.getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
			JWTSecret:           s.getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:           s.getEnv("AUTH_JWT_ISSUER", ""),
			JWTAudience:         s.getEnv("AUTH_JWT_AUDIENCE", ""),
		},
		Telemetry: TelemetryConfig{
			TracesExporter:  strings.ToLower(s.getEnv("OTEL_TRACES_EXPORTER", "none")),
			MetricsExporter: strings.ToLower(s.getEnv("OTEL_METRICS_EXPORTER", "none")),
			SampleRatio:     s.getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		GRPCHealthAddr:  s.getEnv("GRPC_HEALTH_ADDR", ""),
		CatalogSeedFile: s.getEnv("CATALOG_SEED_FILE", ""),
		SessionIdleTTL:  s.getEnvDuration("SESSION_IDLE_TTL", 24*time.Hour),
		SweepInterval:   s.getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		ConversationLog: ConversationLogConfig{
			Enabled:       s.getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           s.getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: s.getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    s.getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("LLM_TIMEOUT must be > 0")
	}
	switch c.Embedding.Provider {
	case "lexical", "ollama", "genai":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be lexical, ollama or genai, got %q", c.Embedding.Provider)
	}
	switch c.Cache.Backend {
	case "sqlite", "none":
	case "langcache":
		if c.Cache.LangCacheURL == "" || c.Cache.LangCacheID == "" {
			return errors.New("LANGCACHE_URL and LANGCACHE_CACHE_ID are required for the langcache backend")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be sqlite, langcache or none, got %q", c.Cache.Backend)
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("CACHE_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.LookupTimeout <= 0 {
		return errors.New("CACHE_LOOKUP_TIMEOUT must be > 0")
	}
	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 10 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be between 1 and 10, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.ToolTimeout <= 0 || c.Agent.PersistTimeout <= 0 {
		return errors.New("TOOL_TIMEOUT and PERSIST_TIMEOUT must be > 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be > 0")
	}
	if c.HTTP.MaxRequestBodyBytes <= 0 {
		return errors.New("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" {
		return c.AppEnv == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	if s.file != nil && s.file.IsSet(key) {
		return s.file.GetString(key), true
	}
	return "", false
}

func (s source) getEnv(key, fallback string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return fallback
}

func (s source) getEnvBool(key string, fallback bool) bool {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (s source) getEnvInt(key string, fallback int) int {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func (s source) getEnvFloat(key string, fallback float64) float64 {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
