package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr            string
	LogLevel        string
	RedisURL        string
	OTLPEndpoint    string
	CatalogPath     string
	DefaultProvider string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	GeminiAPIKey      string
	SiliconFlowAPIKey string
	AiHubMixAPIKey    string
	OllamaBaseURL     string

	// Outbound HTTP
	Proxy          string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration

	// Response cache
	CacheTTL     time.Duration
	CacheMaxSize int

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getEnv("ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RedisURL:          getEnv("REDIS_URL", ""),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", ""),
		CatalogPath:       getEnv("CATALOG_PATH", ""),
		DefaultProvider:   getEnv("DEFAULT_PROVIDER", "ollama"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		SiliconFlowAPIKey: getEnv("SILICONFLOW_API_KEY", ""),
		AiHubMixAPIKey:    getEnv("AIHUBMIX_API_KEY", ""),
		OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", ""),
		Proxy:             getEnv("HTTPS_PROXY", ""),
		RequestTimeout:    getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:        getIntEnv("MAX_RETRIES", 3),
		RetryDelay:        getMillisEnv("RETRY_DELAY_MS", time.Second),
		CacheTTL:          getDurationEnv("CACHE_TTL", 5*time.Minute),
		CacheMaxSize:      getIntEnv("CACHE_MAX_SIZE", 100),
		ShutdownTimeout:   getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("CACHE_MAX_SIZE must be at least 1, got %d", cfg.CacheMaxSize)
	}

	return cfg, nil
}

// LoadEnvFiles loads the files that exist into the environment. Variables
// already set in the environment win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ProviderOptions returns the client options for a catalog provider.
func (c *Config) ProviderOptions(providerID string) domain.ProviderOptions {
	opts := domain.ProviderOptions{
		Proxy:   c.Proxy,
		Timeout: c.RequestTimeout,
		Retry: domain.RetryOptions{
			MaxRetries: c.MaxRetries,
			RetryDelay: c.RetryDelay,
		},
	}

	switch providerID {
	case "openai":
		opts.APIKey = c.OpenAIAPIKey
		opts.BaseURL = c.OpenAIBaseURL
	case "anthropic":
		opts.APIKey = c.AnthropicAPIKey
	case "gemini":
		opts.APIKey = c.GeminiAPIKey
	case "siliconflow":
		opts.APIKey = c.SiliconFlowAPIKey
	case "aihubmix":
		opts.APIKey = c.AiHubMixAPIKey
	case "ollama":
		opts.BaseURL = c.OllamaBaseURL
	}

	return opts
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
