// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	DBPath         string

	LLM             LLMConfig
	Embedding       EmbeddingConfig
	VectorStore     VectorStoreConfig
	Memory          MemoryConfig
	Planner         PlannerConfig
	Retrieval       RetrievalConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig controls model calls, retries and provider credentials.
type LLMConfig struct {
	Models          []string
	Temperature     float64
	MaxTokens       int
	MaxRetries      int
	BackoffBase     time.Duration
	JitterFactor    float64
	RequestTimeout  time.Duration
	MaxPromptTokens int
	BreakerFailures int
	BreakerCooldown time.Duration

	GroqAPIKey      string
	GroqBaseURL     string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	Provider  string // "hash" or "openai"
	Model     string
	Dimension int
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Backend string // "memory" or "qdrant"
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend  string // "memory" or "redis"
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// PlannerConfig bounds planner runs.
type PlannerConfig struct {
	MaxSteps    int
	ToolTimeout time.Duration
}

// RetrievalConfig tunes the retrieval pipeline.
type RetrievalConfig struct {
	HistoryTurns    int
	ScrollBatchSize int
}

// RateLimitConfig controls the per-user sliding window on the planner and chat routes.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:         getEnv("DB_PATH", "./data/tripmind.db"),
		LLM: LLMConfig{
			Models:          getEnvList("LLM_MODELS", []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"}),
			Temperature:     getEnvFloat("LLM_TEMPERATURE", 0),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 1024),
			MaxRetries:      getEnvInt("LLM_MAX_RETRIES", 3),
			BackoffBase:     getEnvDuration("LLM_BACKOFF_BASE", time.Second),
			JitterFactor:    getEnvFloat("LLM_JITTER_FACTOR", 0.1),
			RequestTimeout:  getEnvDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
			MaxPromptTokens: getEnvInt("LLM_MAX_PROMPT_TOKENS", 0),
			BreakerFailures: getEnvInt("LLM_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvDuration("LLM_BREAKER_COOLDOWN", 30*time.Second),
			GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
			GroqBaseURL:     getEnv("GROQ_BASE_URL", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", "hash"),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 256),
		},
		VectorStore: VectorStoreConfig{
			Backend: getEnv("VECTOR_STORE", "memory"),
			Host:    getEnv("QDRANT_HOST", "localhost"),
			Port:    getEnvInt("QDRANT_PORT", 6334),
			APIKey:  getEnv("QDRANT_API_KEY", ""),
			UseTLS:  getEnvBool("QDRANT_USE_TLS", false),
		},
		Memory: MemoryConfig{
			Backend:  getEnv("MEMORY_BACKEND", "memory"),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("MEMORY_TTL", 24*time.Hour),
		},
		Planner: PlannerConfig{
			MaxSteps:    getEnvInt("PLANNER_MAX_STEPS", 5),
			ToolTimeout: getEnvDuration("TOOL_TIMEOUT", 30*time.Second),
		},
		Retrieval: RetrievalConfig{
			HistoryTurns:    getEnvInt("HISTORY_TURNS", 5),
			ScrollBatchSize: getEnvInt("SCROLL_BATCH_SIZE", 50),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if len(c.LLM.Models) == 0 {
		errs = append(errs, errors.New("LLM_MODELS must name at least one model"))
	}
	if c.LLM.MaxRetries <= 0 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must be > 0"))
	}
	if c.LLM.BackoffBase < 0 {
		errs = append(errs, errors.New("LLM_BACKOFF_BASE cannot be negative"))
	}
	if c.LLM.JitterFactor < 0 || c.LLM.JitterFactor > 1 {
		errs = append(errs, errors.New("LLM_JITTER_FACTOR must be within [0, 1]"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("LLM_TEMPERATURE must be within [0, 2]"))
	}
	switch c.Embedding.Provider {
	case "hash", "openai":
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER %q is not one of hash, openai", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("EMBEDDING_DIMENSION must be > 0"))
	}
	switch c.VectorStore.Backend {
	case "memory", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("VECTOR_STORE %q is not one of memory, qdrant", c.VectorStore.Backend))
	}
	switch c.Memory.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("MEMORY_BACKEND %q is not one of memory, redis", c.Memory.Backend))
	}
	if c.Planner.MaxSteps <= 0 {
		errs = append(errs, errors.New("PLANNER_MAX_STEPS must be > 0"))
	}
	if c.Planner.ToolTimeout <= 0 {
		errs = append(errs, errors.New("TOOL_TIMEOUT must be > 0"))
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.ConversationLog.Dir == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_DIR cannot be empty"))
	}
	if c.ConversationLog.GlobalPath == "" {
		errs = append(errs, errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty"))
	}
	if c.ConversationLog.QueueSize <= 0 {
		errs = append(errs, errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// HasProviderKey reports whether any model provider is configured.
func (c *Config) HasProviderKey() bool {
	l := c.LLM
	return l.GroqAPIKey != "" || l.OpenAIAPIKey != "" || l.AnthropicAPIKey != "" || l.GeminiAPIKey != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
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

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1.5s") and bare seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
