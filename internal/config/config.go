package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGrok      = "grok"
	ProviderOpenAI    = "openai"
	ProviderEcho      = "echo"
)

// Widget defaults. MinRequestInterval is the throttle floor between the
// start of two consecutive chat requests.
const (
	DefaultMinRequestInterval = 3 * time.Second
	DefaultStatusPollInterval = 5 * time.Minute
	DefaultRequestTimeout     = 60 * time.Second
	DefaultProbeTimeout       = 10 * time.Second

	Greeting        = "Hi! I'm your study assistant. Ask me anything about your courses."
	ThinkingText    = "I'm thinking..."
	FallbackText    = "Sorry, I'm having trouble connecting right now. Please try again later."
	DefaultTokenEnv = "LEARNCHAT_TOKEN"
)

// Config holds the widget (client side) configuration
type Config struct {
	BaseURL            string
	TokenEnv           string // Environment variable holding the bearer token
	TokenFile          string // File holding the bearer token, re-read on every call
	MinRequestInterval time.Duration
	StatusPollInterval time.Duration
	RequestTimeout     time.Duration // 0 disables the explicit chat timeout
	ProbeTimeout       time.Duration
	Debug              bool
	LogDir             string
	Telemetry          bool
}

// RelayConfig holds the development assistant service configuration
type RelayConfig struct {
	Addr        string
	Provider    string
	APIKey      string // Read from the provider's key variable, see APIKeyEnv
	OllamaURL   string
	OllamaModel string // Model specification in format "model:version"
	JWTSecret   string
	DBPath      string
	CacheTTL    time.Duration
	RateLimit   float64 // requests per second per token, 0 disables
	RateBurst   int
	Debug       bool
	LogDir      string
	Telemetry   bool
}

// Load returns the widget configuration with defaults taken from the
// environment.
func Load() Config {
	return Config{
		BaseURL:            getEnv("LEARNCHAT_BASE_URL", "http://localhost:8089"),
		TokenEnv:           getEnv("LEARNCHAT_TOKEN_ENV", DefaultTokenEnv),
		TokenFile:          getEnv("LEARNCHAT_TOKEN_FILE", ""),
		MinRequestInterval: getEnvDuration("LEARNCHAT_MIN_INTERVAL", DefaultMinRequestInterval),
		StatusPollInterval: getEnvDuration("LEARNCHAT_STATUS_INTERVAL", DefaultStatusPollInterval),
		RequestTimeout:     getEnvDuration("LEARNCHAT_REQUEST_TIMEOUT", DefaultRequestTimeout),
		ProbeTimeout:       getEnvDuration("LEARNCHAT_PROBE_TIMEOUT", DefaultProbeTimeout),
		Debug:              getEnvBool("LEARNCHAT_DEBUG", false),
		LogDir:             getEnv("LEARNCHAT_LOG_DIR", "logs"),
		Telemetry:          getEnvBool("LEARNCHAT_TELEMETRY", true),
	}
}

// LoadRelay returns the relay configuration with defaults taken from the
// environment.
func LoadRelay() RelayConfig {
	provider := getEnv("RELAY_PROVIDER", ProviderEcho)
	return RelayConfig{
		Addr:        getEnv("RELAY_ADDR", ":8089"),
		Provider:    provider,
		APIKey:      getEnv(APIKeyEnv(provider), ""),
		OllamaURL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: getEnv("OLLAMA_MODEL", "llama3:latest"),
		JWTSecret:   getEnv("RELAY_JWT_SECRET", ""),
		DBPath:      getEnv("RELAY_DB_PATH", "./data/relay.db"),
		CacheTTL:    getEnvDuration("RELAY_CACHE_TTL", 10*time.Minute),
		RateLimit:   getEnvFloat("RELAY_RATE_LIMIT", 1),
		RateBurst:   getEnvInt("RELAY_RATE_BURST", 3),
		Debug:       getEnvBool("RELAY_DEBUG", false),
		LogDir:      getEnv("RELAY_LOG_DIR", "logs"),
		Telemetry:   getEnvBool("RELAY_TELEMETRY", true),
	}
}

// Validate checks that the widget configuration is usable.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", c.BaseURL)
	}
	if c.TokenEnv == "" && c.TokenFile == "" {
		return fmt.Errorf("either a token environment variable or a token file is required")
	}
	if c.MinRequestInterval < 0 {
		return fmt.Errorf("min request interval must be >= 0")
	}
	if c.StatusPollInterval <= 0 {
		return fmt.Errorf("status poll interval must be > 0")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0")
	}
	return nil
}

// Validate checks that the relay configuration is usable.
func (c RelayConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	switch c.Provider {
	case ProviderOllama, ProviderAnthropic, ProviderGrok, ProviderOpenAI, ProviderEcho:
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if env := APIKeyEnv(c.Provider); env != "" && c.APIKey == "" {
		return fmt.Errorf("%s not set", env)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("RELAY_JWT_SECRET cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}
	return nil
}

// APIKeyEnv names the environment variable holding the API key of a hosted
// provider. Local providers need none.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGrok:
		return "GROK_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
