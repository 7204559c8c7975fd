package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Diagnosis  DiagnosisConfig  `yaml:"diagnosis" mapstructure:"diagnosis"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Weather    ServiceConfig    `yaml:"weather" mapstructure:"weather"`
	Registry   ServiceConfig    `yaml:"registry" mapstructure:"registry"`
	Safety     ServiceConfig    `yaml:"safety" mapstructure:"safety"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
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
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// RunWorkers starts the validation pool and sweeper inside serve.
	RunWorkers bool `yaml:"run_workers" mapstructure:"run_workers"`
}

// DiagnosisConfig holds the scoring and resolution constants.
type DiagnosisConfig struct {
	MinConfidence   float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	SymptomWeight   float64 `yaml:"symptom_weight" mapstructure:"symptom_weight"`
	ConditionWeight float64 `yaml:"condition_weight" mapstructure:"condition_weight"`
	MaxMatches      int     `yaml:"max_matches" mapstructure:"max_matches"`
	// EnrichEnvironment fetches missing readings from the weather service
	// when evidence carries a location.
	EnrichEnvironment bool `yaml:"enrich_environment" mapstructure:"enrich_environment"`
}

// CacheConfig configures the tiered diagnosis cache.
type CacheConfig struct {
	LocalMaxEntries         int           `yaml:"local_max_entries" mapstructure:"local_max_entries"`
	ShortTTL                time.Duration `yaml:"short_ttl" mapstructure:"short_ttl"`
	LongTTL                 time.Duration `yaml:"long_ttl" mapstructure:"long_ttl"`
	ComputeTimeout          time.Duration `yaml:"compute_timeout" mapstructure:"compute_timeout"`
	SharedEnabled           bool          `yaml:"shared_enabled" mapstructure:"shared_enabled"`
	SharedTimeout           time.Duration `yaml:"shared_timeout" mapstructure:"shared_timeout"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int           `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ValidationConfig configures the intervention validation queue.
type ValidationConfig struct {
	Workers          int           `yaml:"workers" mapstructure:"workers"`
	BatchSize        int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts      int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int           `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int           `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Lease            time.Duration `yaml:"lease" mapstructure:"lease"`
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	CallTimeout      time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	SweepSchedule    string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`
	// WeatherWindow is how far back the weather check looks from the
	// intervention start when no end time is recorded.
	WeatherWindow           time.Duration `yaml:"weather_window" mapstructure:"weather_window"`
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold" mapstructure:"breaker_failure_threshold"`
	BreakerResetSecs        int           `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServiceConfig holds connection settings for an HTTP collaborator.
type ServiceConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds settings for free-text symptom extraction.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MonitoringConfig configures validation health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// DLQThreshold alerts when the dead-letter queue holds more entries.
	// Zero disables the check.
	DLQThreshold     int `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
	BacklogThreshold int `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
}

// defaults apply beneath the config file and CROPDOC_* environment.
var defaults = map[string]any{
	"store.driver":                         "postgres",
	"store.max_conns":                      10,
	"store.min_conns":                      2,
	"log.level":                            "info",
	"log.format":                           "json",
	"server.port":                          8080,
	"server.allowed_origins":               []string{"*"},
	"server.run_workers":                   false,
	"diagnosis.min_confidence":             0.3,
	"diagnosis.symptom_weight":             0.7,
	"diagnosis.condition_weight":           0.3,
	"diagnosis.max_matches":                10,
	"diagnosis.enrich_environment":         true,
	"cache.local_max_entries":              1000,
	"cache.short_ttl":                      15*time.Minute,
	"cache.long_ttl":                       6*time.Hour,
	"cache.compute_timeout":                30*time.Second,
	"cache.shared_enabled":                 true,
	"cache.shared_timeout":                 2*time.Second,
	"cache.breaker_failure_threshold":      5,
	"cache.breaker_reset_secs":             30,
	"validation.workers":                   4,
	"validation.batch_size":                10,
	"validation.max_attempts":              3,
	"validation.initial_backoff_ms":        2000,
	"validation.max_backoff_ms":            300000,
	"validation.lease":                     2*time.Minute,
	"validation.poll_interval":             time.Second,
	"validation.call_timeout":              10*time.Second,
	"validation.sweep_schedule":            "@every 1m",
	"validation.weather_window":            6*time.Hour,
	"validation.breaker_failure_threshold": 5,
	"validation.breaker_reset_secs":        60,
	"weather.rate_limit":                   10,
	"weather.timeout_secs":                 15,
	"registry.rate_limit":                  5,
	"registry.timeout_secs":                15,
	"safety.rate_limit":                    5,
	"safety.timeout_secs":                  15,
	"anthropic.model":                      "claude-haiku-4-5-20251001",
	"anthropic.max_tokens":                 512,
	"monitoring.enabled":                   false,
	"monitoring.check_interval_secs":       300,
	"monitoring.lookback_window_hours":     24,
	"monitoring.failure_rate_threshold":    0.10,
	"monitoring.dlq_threshold":             25,
	"monitoring.backlog_threshold":         500,
}

// Load reads configuration. path names a YAML file; when empty, config.yaml
// is looked up in the working directory and /etc/cropdoc and is optional.
// CROPDOC_SECTION_KEY environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROPDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrapf(err, "config: read %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cropdoc")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Known modes are
// "serve", "worker" and "diagnose".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Diagnosis.MinConfidence < 0 || c.Diagnosis.MinConfidence > 1 {
		errs = append(errs, "diagnosis.min_confidence must be between 0 and 1")
	}
	if c.Diagnosis.SymptomWeight < 0 || c.Diagnosis.ConditionWeight < 0 {
		errs = append(errs, "diagnosis weights must be >= 0")
	}

	switch mode {
	case "diagnose":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RunWorkers {
			errs = append(errs, c.validateWorkers()...)
		}
	case "worker":
		errs = append(errs, c.validateWorkers()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateWorkers() []string {
	var errs []string
	if c.Validation.Workers < 1 || c.Validation.Workers > 64 {
		errs = append(errs, "validation.workers must be between 1 and 64")
	}
	if c.Validation.MaxAttempts < 1 {
		errs = append(errs, "validation.max_attempts must be >= 1")
	}
	if c.Validation.Lease <= c.Validation.CallTimeout {
		errs = append(errs, "validation.lease must exceed validation.call_timeout")
	}
	if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
		errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
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
