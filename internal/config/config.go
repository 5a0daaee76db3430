package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Finalizer FinalizerConfig `yaml:"finalizer" mapstructure:"finalizer"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig holds the secret reviewer tokens are signed with.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// FinalizerConfig configures the finalize-stage-results endpoint.
type FinalizerConfig struct {
	URL             string        `yaml:"url" mapstructure:"url"`
	APIKey          string        `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs     int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec      float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Retry           RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker         BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	MaxQueueRetries int           `yaml:"max_queue_retries" mapstructure:"max_queue_retries"`
}

// RetryConfig configures transient retries of a finalizer call.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the finalizer circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScoringConfig points at an optional YAML override of the category
// points scales.
type ScoringConfig struct {
	ScaleFile string `yaml:"scale_file" mapstructure:"scale_file"`
}

// MonitoringConfig configures the background publish-health checker that
// runs alongside serve.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QueueDepthThreshold  int     `yaml:"queue_depth_threshold" mapstructure:"queue_depth_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	RetryBatch           int     `yaml:"retry_batch" mapstructure:"retry_batch"`
}

// Load reads configuration from .env, config.yaml and the environment,
// in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STAGE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key is registered so AutomaticEnv can override it.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("finalizer.url", "")
	v.SetDefault("finalizer.api_key", "")
	v.SetDefault("finalizer.timeout_secs", 30)
	v.SetDefault("finalizer.rate_per_sec", 2.0)
	v.SetDefault("finalizer.retry.max_attempts", 3)
	v.SetDefault("finalizer.retry.initial_backoff_ms", 500)
	v.SetDefault("finalizer.retry.max_backoff_ms", 30000)
	v.SetDefault("finalizer.breaker.failure_threshold", 5)
	v.SetDefault("finalizer.breaker.reset_timeout_secs", 30)
	v.SetDefault("finalizer.max_queue_retries", 5)
	v.SetDefault("scoring.scale_file", "")
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.queue_depth_threshold", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.retry_batch", 50)

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

// Validate checks the keys a command needs. Modes: "read" (standings and
// exports), "publish", "serve" and "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || (c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns) {
		errs = append(errs, "store.min_conns must be between 0 and store.max_conns")
	}

	switch mode {
	case "read", "migrate":
	case "publish":
		errs = append(errs, c.validateFinalizer()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required")
		}
		errs = append(errs, c.validateFinalizer()...)
		if m := c.Monitoring; m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// validateFinalizer allows an empty URL for local stores only.
func (c *Config) validateFinalizer() []string {
	var errs []string
	f := c.Finalizer
	if f.URL == "" && c.Store.Driver != "sqlite" {
		errs = append(errs, "finalizer.url is required")
	}
	if f.URL != "" && f.APIKey == "" {
		errs = append(errs, "finalizer.api_key is required")
	}
	if f.RatePerSec < 0 {
		errs = append(errs, "finalizer.rate_per_sec must be >= 0")
	}
	if f.MaxQueueRetries < 0 {
		errs = append(errs, "finalizer.max_queue_retries must be >= 0")
	}
	return errs
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
