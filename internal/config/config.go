package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is resolved once at
// startup and handed to constructors; nothing reads the environment later.
type Config struct {
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ProvidersConfig configures the market-data provider adapters.
type ProvidersConfig struct {
	CoinMarketCap   ProviderConfig `yaml:"coinmarketcap" mapstructure:"coinmarketcap"`
	CoinGecko       ProviderConfig `yaml:"coingecko" mapstructure:"coingecko"`
	DefiLlama       ProviderConfig `yaml:"defillama" mapstructure:"defillama"`
	CallTimeoutSecs int            `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
}

// ProviderConfig holds settings for a single provider.
type ProviderConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// CallTimeout returns the per-call provider deadline.
func (p ProvidersConfig) CallTimeout() time.Duration {
	if p.CallTimeoutSecs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(p.CallTimeoutSecs) * time.Second
}

// CacheConfig configures the provider response cache.
type CacheConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the freshness window for cache entries.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// PipelineConfig configures stage execution and report output.
type PipelineConfig struct {
	StageTimeoutSecs int    `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	SectionsFile     string `yaml:"sections_file" mapstructure:"sections_file"`
	OutputDir        string `yaml:"output_dir" mapstructure:"output_dir"`
	UseCache         bool   `yaml:"use_cache" mapstructure:"use_cache"`
}

// StageTimeout returns the per-stage deadline.
func (p PipelineConfig) StageTimeout() time.Duration {
	if p.StageTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.StageTimeoutSecs) * time.Second
}

// JobsConfig configures the job registry.
type JobsConfig struct {
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit"`
}

// StoreConfig configures the job persistence backend. An empty driver
// disables persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// RetryConfig holds retry policy settings for provider calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker settings for provider calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ProviderErrorThreshold int     `yaml:"provider_error_threshold" mapstructure:"provider_error_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("COINRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("providers.call_timeout_secs", 20)
	v.SetDefault("providers.coinmarketcap.enabled", true)
	v.SetDefault("providers.coinmarketcap.base_url", "https://pro-api.coinmarketcap.com")
	v.SetDefault("providers.coinmarketcap.rate_per_sec", 0.5)
	v.SetDefault("providers.coingecko.enabled", true)
	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.rate_per_sec", 0.5)
	v.SetDefault("providers.defillama.enabled", true)
	v.SetDefault("providers.defillama.base_url", "https://api.llama.fi")
	v.SetDefault("providers.defillama.rate_per_sec", 1.0)

	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.dsn", "cache/cache.db")
	v.SetDefault("cache.ttl_secs", 10800)

	v.SetDefault("pipeline.stage_timeout_secs", 300)
	v.SetDefault("pipeline.output_dir", "docs")
	v.SetDefault("pipeline.use_cache", true)

	v.SetDefault("jobs.history_limit", 50)

	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.provider_error_threshold", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks that the settings required by the given command are present.
// Supported modes are "run" and "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required")
	}
	if c.Cache.TTLSecs < 0 {
		problems = append(problems, "cache.ttl_secs must not be negative")
	}
	switch c.Cache.Driver {
	case "file", "sqlite", "none":
	default:
		problems = append(problems, "cache.driver must be one of file, sqlite, none")
	}
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be one of sqlite, postgres")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}
