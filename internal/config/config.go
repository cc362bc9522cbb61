package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Provider  ProviderConfig  `yaml:"provider" mapstructure:"provider"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Reports   ReportsConfig   `yaml:"reports" mapstructure:"reports"`
	Legal     LegalConfig     `yaml:"legal" mapstructure:"legal"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ProviderConfig holds the satellite analytics provider settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// QuotaConfig caps provider request consumption.
type QuotaConfig struct {
	MonthlyRequests int `yaml:"monthly_requests" mapstructure:"monthly_requests"`
	PerUserRequests int `yaml:"per_user_requests" mapstructure:"per_user_requests"`
}

// AnthropicConfig holds narrative model settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	PrimaryModel     string `yaml:"primary_model" mapstructure:"primary_model"`
	FallbackModel    string `yaml:"fallback_model" mapstructure:"fallback_model"`
	CallIntervalSecs int    `yaml:"call_interval_secs" mapstructure:"call_interval_secs"`
	CacheTTLDays     int    `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
}

// ReportsConfig controls report composition and billing defaults.
type ReportsConfig struct {
	OutDir          string  `yaml:"out_dir" mapstructure:"out_dir"`
	DefaultTemplate string  `yaml:"default_template" mapstructure:"default_template"`
	PriceBase       float64 `yaml:"price_base" mapstructure:"price_base"`
	DueDays         int     `yaml:"due_days" mapstructure:"due_days"`
}

// LegalConfig names the geodata layer archives and the local cache for them.
type LegalConfig struct {
	HydroURL          string `yaml:"hydro_url" mapstructure:"hydro_url"`
	ProtectedAreasURL string `yaml:"protected_areas_url" mapstructure:"protected_areas_url"`
	ReservesURL       string `yaml:"reserves_url" mapstructure:"reserves_url"`
	ParamosURL        string `yaml:"paramos_url" mapstructure:"paramos_url"`
	LayerCacheDir     string `yaml:"layer_cache_dir" mapstructure:"layer_cache_dir"`
}

// RetryConfig configures transient-error retries on external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("SATREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "satreport.db")
	v.SetDefault("provider.base_url", "https://api-connect.eos.com")
	v.SetDefault("quota.monthly_requests", 1000)
	v.SetDefault("quota.per_user_requests", 100)
	v.SetDefault("anthropic.primary_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.fallback_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.call_interval_secs", 4)
	v.SetDefault("anthropic.cache_ttl_days", 30)
	v.SetDefault("reports.out_dir", "reports")
	v.SetDefault("reports.default_template", "standard_default")
	v.SetDefault("reports.due_days", 30)
	v.SetDefault("legal.layer_cache_dir", "/tmp/satreport/layers")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.2)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields required by the given run mode. Modes map to
// command families: "acquire", "report", "legal", "export", "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Quota.MonthlyRequests <= 0 {
		problems = append(problems, "quota.monthly_requests must be > 0")
	}
	if c.Quota.PerUserRequests <= 0 || c.Quota.PerUserRequests > c.Quota.MonthlyRequests {
		problems = append(problems, "quota.per_user_requests must be between 1 and quota.monthly_requests")
	}

	switch mode {
	case "acquire":
		if c.Provider.APIKey == "" {
			problems = append(problems, "provider.api_key is required")
		}
	case "report":
		if c.Reports.OutDir == "" {
			problems = append(problems, "reports.out_dir is required")
		}
		if c.Reports.DueDays < 0 {
			problems = append(problems, "reports.due_days must be >= 0")
		}
	case "legal":
		if c.Legal.HydroURL == "" {
			problems = append(problems, "legal.hydro_url is required")
		}
		if c.Legal.LayerCacheDir == "" {
			problems = append(problems, "legal.layer_cache_dir is required")
		}
	case "export":
		// Store checks above are sufficient.
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
