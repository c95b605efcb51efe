package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	constants "yt-tags-api/api/constants"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is read once at startup and passed by value; nothing reads the
// environment after Load returns.
type Config struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	LLMTimeout    time.Duration
	StrictJSON    bool
	RedisURL      string
	CacheTTL      time.Duration
	Port          string
}

// Load builds a Config from environment variables. A missing API key is not
// an error here; requests report it instead.
func Load() (Config, error) {
	timeout, err := getEnvDuration("LLM_TIMEOUT", constants.LlmTimeout)
	if err != nil {
		return Config{}, err
	}
	ttl, err := getEnvDuration("CACHE_TTL", constants.CacheDuration)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Provider:      strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:   getEnv("GEMINI_MODEL", constants.DefaultGemini),
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:   getEnv("OPENAI_MODEL", constants.DefaultOpenAI),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", constants.DefaultOpenAIURL),
		LLMTimeout:    timeout,
		StrictJSON:    getEnvBool("STRICT_JSON", false),
		RedisURL:      os.Getenv("KV_URL"),
		CacheTTL:      ttl,
		Port:          getEnv("PORT", constants.DefaultPort),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q, expected %q or %q", c.Provider, ProviderGemini, ProviderOpenAI)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLMTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	return nil
}

// APIKey returns the key of the selected provider.
func (c Config) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func (c Config) Model() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIModel
	}
	return c.GeminiModel
}

// VendorName is the provider name used in messages shown to clients.
func (c Config) VendorName() string {
	if c.Provider == ProviderOpenAI {
		return "OpenAI"
	}
	return "Gemini"
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return d, nil
}
