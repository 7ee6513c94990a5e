package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Session      SessionConfig      `mapstructure:"session"`
	Routing      RoutingConfig      `mapstructure:"routing"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Breaker      BreakerConfig      `mapstructure:"circuit_breaker"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Database     DatabaseConfig     `mapstructure:"database"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Env    string `mapstructure:"env"`     // development, staging, production
	APIKey string `mapstructure:"api_key"` // optional shared secret; empty = no auth
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	RedisURL   string `mapstructure:"redis_url"` // empty = in-memory store
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// RoutingConfig configures default model resolution.
type RoutingConfig struct {
	DefaultProvider string   `mapstructure:"default_provider"`
	DefaultModel    string   `mapstructure:"default_model"`
	FallbackOrder   []string `mapstructure:"fallback_order"` // tried in order after the primary
}

// ProviderConfig configures a single upstream provider.
// An empty APIKey disables the provider (except local inference,
// which is enabled by its base URL).
type ProviderConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	DefaultModel   string        `mapstructure:"default_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProvidersConfig holds per-upstream provider settings.
type ProvidersConfig struct {
	OpenAI     ProviderConfig `mapstructure:"openai"`
	Anthropic  ProviderConfig `mapstructure:"anthropic"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek"`
	Google     ProviderConfig `mapstructure:"google"`
	OpenRouter ProviderConfig `mapstructure:"openrouter"`
	Ollama     ProviderConfig `mapstructure:"ollama"`
	Local      ProviderConfig `mapstructure:"local"` // local inference service
}

// ToolsConfig configures the tool executor and its HTTP proxy targets.
type ToolsConfig struct {
	SemanticSearchURL string        `mapstructure:"semantic_search_url"`
	AIAgentsURL       string        `mapstructure:"ai_agents_url"`
	ExecTimeout       time.Duration `mapstructure:"exec_timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	RPM   int `mapstructure:"rpm"`
	Burst int `mapstructure:"burst"`
}

// BreakerConfig tunes the per-upstream circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// BackpressureConfig tunes admission control.
type BackpressureConfig struct {
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
	MemoryThresholdMB int     `mapstructure:"memory_threshold_mb"`
	SoftLimitPercent  float64 `mapstructure:"soft_limit_percent"`
	QueueWarnDepth    int     `mapstructure:"queue_warn_depth"`
}

// DatabaseConfig configures the usage ledger store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres, or "" to disable
	DSN  string `mapstructure:"dsn"`
}

// Load reads configuration: defaults, then an optional config.yaml in the
// working directory or ./config, then environment variables (highest
// priority). The environment keys match the deployment contract
// (PORT, OPENAI_API_KEY, RATE_LIMIT_RPM, ...).
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("session.ttl_seconds", 3600)

	v.SetDefault("routing.default_provider", "openai")
	v.SetDefault("routing.default_model", "gpt-4o")

	v.SetDefault("providers.openai.default_model", "gpt-4o")
	v.SetDefault("providers.anthropic.default_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("providers.deepseek.default_model", "deepseek-chat")
	v.SetDefault("providers.google.default_model", "gemini-2.0-flash")
	v.SetDefault("providers.openrouter.default_model", "openrouter/auto")
	v.SetDefault("providers.ollama.base_url", "")
	v.SetDefault("providers.local.base_url", "")
	for _, name := range []string{"openai", "anthropic", "deepseek", "google", "openrouter", "ollama", "local"} {
		v.SetDefault("providers."+name+".request_timeout", "120s")
	}

	v.SetDefault("tools.exec_timeout", "60s")
	v.SetDefault("tools.max_parallel", 4)

	v.SetDefault("rate_limit.rpm", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout", "30s")

	v.SetDefault("backpressure.max_concurrent", 50)
	v.SetDefault("backpressure.memory_threshold_mb", 1024)
	v.SetDefault("backpressure.soft_limit_percent", 0.8)
	v.SetDefault("backpressure.queue_warn_depth", 25)

	v.SetDefault("database.type", "")
	v.SetDefault("database.dsn", "prismgate.db")
}

// bindEnv maps the flat deployment environment keys onto the nested
// config structure. Each key is bound explicitly so that `PORT` works
// without a prefix and without a config file.
func bindEnv(v *viper.Viper) {
	bindings := map[string]string{
		"server.port":    "PORT",
		"server.env":     "ENV",
		"server.api_key": "GATEWAY_API_KEY",

		"log.level": "LOG_LEVEL",

		"session.redis_url":   "REDIS_URL",
		"session.ttl_seconds": "SESSION_TTL_SECONDS",

		"routing.default_provider": "DEFAULT_PROVIDER",
		"routing.default_model":    "DEFAULT_MODEL",
		"routing.fallback_order":   "FALLBACK_ORDER",

		"providers.openai.api_key":     "OPENAI_API_KEY",
		"providers.anthropic.api_key":  "ANTHROPIC_API_KEY",
		"providers.deepseek.api_key":   "DEEPSEEK_API_KEY",
		"providers.google.api_key":     "GOOGLE_API_KEY",
		"providers.openrouter.api_key": "OPENROUTER_API_KEY",
		"providers.ollama.base_url":    "OLLAMA_URL",
		"providers.local.base_url":     "INFERENCE_SERVICE_URL",

		"tools.semantic_search_url": "SEMANTIC_SEARCH_URL",
		"tools.ai_agents_url":       "AI_AGENTS_URL",

		"rate_limit.rpm":   "RATE_LIMIT_RPM",
		"rate_limit.burst": "RATE_LIMIT_BURST",

		"circuit_breaker.failure_threshold": "CIRCUIT_BREAKER_FAILURE_THRESHOLD",
		"circuit_breaker.recovery_timeout":  "CIRCUIT_BREAKER_RECOVERY_TIMEOUT",

		"backpressure.memory_threshold_mb": "MEMORY_THRESHOLD_MB",
		"backpressure.soft_limit_percent":  "MEMORY_SOFT_LIMIT_PERCENT",
		"backpressure.max_concurrent":      "MAX_CONCURRENT_REQUESTS",

		"database.type": "DATABASE_TYPE",
		"database.dsn":  "DATABASE_DSN",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}
