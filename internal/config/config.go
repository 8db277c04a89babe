package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full construction-time configuration for the core. Everything
// here is bound into the Core value at startup; there is no dynamic reload.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Models  ModelsConfig  `mapstructure:"models"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	GracefulShutdown time.Duration `mapstructure:"graceful_shutdown"`
}

// BudgetConfig holds the admission ceilings. RMax is per user per minute; the
// IP ceiling is fixed at twice RMax and the process ceiling at ProcessFactor
// times RMax.
type BudgetConfig struct {
	RMax          int     `mapstructure:"r_max"`
	TMaxDay       int     `mapstructure:"t_max_day"`
	CMaxDay       float64 `mapstructure:"c_max_day"`
	ProcessFactor int     `mapstructure:"process_factor"`
}

type CacheConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Password string `mapstructure:"redis_password"`
	DB       int    `mapstructure:"redis_db"`
}

type ModelsConfig struct {
	Roaster ModelConfig `mapstructure:"roaster"`
	Advisor ModelConfig `mapstructure:"advisor"`
	Utility ModelConfig `mapstructure:"utility"`
}

type ModelConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LedgerConfig struct {
	DatabaseURL  string        `mapstructure:"database_url"`
	SoftDeadline time.Duration `mapstructure:"soft_deadline"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.AddConfigPath(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/furgo")
	}

	setDefaults()

	viper.AutomaticEnv()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.graceful_shutdown", 15*time.Second)

	viper.SetDefault("budget.r_max", 10)
	viper.SetDefault("budget.t_max_day", 100_000)
	viper.SetDefault("budget.c_max_day", 5.0)
	viper.SetDefault("budget.process_factor", 50)

	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.redis_db", 0)

	viper.SetDefault("models.roaster.base_url", "https://api.x.ai/v1")
	viper.SetDefault("models.roaster.model", "grok-4-fast")
	viper.SetDefault("models.roaster.timeout", 30*time.Second)

	viper.SetDefault("models.advisor.base_url", "https://api.anthropic.com")
	viper.SetDefault("models.advisor.model", "claude-sonnet-4-20250514")
	viper.SetDefault("models.advisor.timeout", 30*time.Second)

	viper.SetDefault("models.utility.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("models.utility.model", "gemini-2.0-flash")
	viper.SetDefault("models.utility.timeout", 30*time.Second)

	viper.SetDefault("ledger.database_url", "")
	viper.SetDefault("ledger.soft_deadline", 500*time.Millisecond)
	viper.SetDefault("ledger.buffer_size", 1024)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func bindEnvVars() {
	envBindings := map[string]string{
		"server.port": "PORT",

		"budget.r_max":     "R_MAX",
		"budget.t_max_day": "T_MAX_DAY",
		"budget.c_max_day": "C_MAX_DAY",

		"cache.redis_url":      "REDIS_URL",
		"cache.redis_password": "REDIS_PASSWORD",

		"models.roaster.api_key":  "XAI_API_KEY",
		"models.roaster.base_url": "ROASTER_BASE_URL",
		"models.roaster.timeout":  "ROASTER_TIMEOUT",
		"models.advisor.api_key":  "ANTHROPIC_API_KEY",
		"models.advisor.base_url": "ADVISOR_BASE_URL",
		"models.advisor.timeout":  "ADVISOR_TIMEOUT",
		"models.utility.api_key":  "GEMINI_API_KEY",
		"models.utility.base_url": "UTILITY_BASE_URL",
		"models.utility.timeout":  "UTILITY_TIMEOUT",

		"ledger.database_url": "DATABASE_URL",

		"logging.level":  "LOG_LEVEL",
		"logging.format": "LOG_FORMAT",
	}

	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}
}
