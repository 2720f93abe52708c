package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Collectors CollectorsConfig `mapstructure:"collectors"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Poller     PollerConfig     `mapstructure:"poller"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Export     ExportConfig     `mapstructure:"export"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	CronSecret string `mapstructure:"cron_secret"` // shared secret gating the cron endpoint
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite
	DSN    string `mapstructure:"dsn"`    // Connection string
}

// SchedulerConfig holds dispatch settings
type SchedulerConfig struct {
	InternalTimer bool          `mapstructure:"internal_timer"` // run the dispatcher from an in-process cron entry
	DispatchCron  string        `mapstructure:"dispatch_cron"`  // cron spec for the internal timer
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"` // how soon a failed config becomes due again
	JobTimeout    time.Duration `mapstructure:"job_timeout"`    // upper bound for one collection run
}

// CollectorsConfig holds all collector configurations
type CollectorsConfig struct {
	Webhook WebhookCollectorConfig `mapstructure:"webhook"`
	RSS     RSSCollectorConfig     `mapstructure:"rss"`
}

// WebhookCollectorConfig configures collectors backed by the external
// workflow-automation platform
type WebhookCollectorConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	Endpoints []WebhookEndpoint `mapstructure:"endpoints"`
}

// WebhookEndpoint maps a source identifier to a workflow webhook URL
type WebhookEndpoint struct {
	Source string `mapstructure:"source"`
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"` // optional bearer token for the webhook
}

// RSSCollectorConfig configures RSS job-board collectors
type RSSCollectorConfig struct {
	Enabled bool      `mapstructure:"enabled"`
	Feeds   []RSSFeed `mapstructure:"feeds"`
}

// RSSFeed represents a single job-board feed
type RSSFeed struct {
	Source string `mapstructure:"source"`
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
}

// AnthropicConfig holds Claude API settings for the listing analyzer
type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// PollerConfig holds adaptive client poller defaults
type PollerConfig struct {
	CheckInterval     time.Duration `mapstructure:"check_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// RedisConfig holds the optional distributed dispatch lock settings
type RedisConfig struct {
	URL     string        `mapstructure:"url"` // empty disables the redis lock
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// ExportConfig holds Google Sheets run-log export settings
type ExportConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	SheetName          string `mapstructure:"sheet_name"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	ServiceAccountJSON string `mapstructure:"service_account_json"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in current directory and configs folder
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		// Also check user's home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".jobpulse"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("JOBPULSE")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("server.port", "JOBPULSE_SERVER_PORT")
	v.BindEnv("server.cron_secret", "JOBPULSE_SERVER_CRON_SECRET")
	v.BindEnv("database.driver", "JOBPULSE_DATABASE_DRIVER")
	v.BindEnv("database.dsn", "JOBPULSE_DATABASE_DSN")
	v.BindEnv("anthropic.api_key", "JOBPULSE_ANTHROPIC_API_KEY")
	v.BindEnv("redis.url", "JOBPULSE_REDIS_URL")
	v.BindEnv("export.enabled", "JOBPULSE_EXPORT_ENABLED")
	v.BindEnv("export.spreadsheet_id", "JOBPULSE_EXPORT_SPREADSHEET_ID")
	v.BindEnv("export.credentials_file", "JOBPULSE_EXPORT_CREDENTIALS_FILE")
	v.BindEnv("export.service_account_json", "JOBPULSE_EXPORT_SERVICE_ACCOUNT_JSON")
	v.BindEnv("scheduler.internal_timer", "JOBPULSE_SCHEDULER_INTERNAL_TIMER")
	v.BindEnv("scheduler.dispatch_cron", "JOBPULSE_SCHEDULER_DISPATCH_CRON")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/jobpulse.db")

	// Scheduler defaults
	v.SetDefault("scheduler.internal_timer", false)
	v.SetDefault("scheduler.dispatch_cron", "*/5 * * * *") // Every 5 minutes
	v.SetDefault("scheduler.retry_cooldown", "10m")
	v.SetDefault("scheduler.job_timeout", "10m")

	// Collector defaults
	v.SetDefault("collectors.webhook.enabled", true)
	v.SetDefault("collectors.rss.enabled", true)

	// Anthropic defaults
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.temperature", 0.3)

	// Poller defaults
	v.SetDefault("poller.check_interval", "1m")
	v.SetDefault("poller.max_retries", 3)
	v.SetDefault("poller.backoff_multiplier", 2.0)

	// Redis lock defaults
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl", "5m")

	// Export defaults
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.sheet_name", "Runs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.CronSecret == "" {
		return fmt.Errorf("server.cron_secret is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Poller.MaxRetries < 1 {
		return fmt.Errorf("poller.max_retries must be at least 1")
	}
	if c.Export.Enabled && c.Export.SpreadsheetID == "" {
		return fmt.Errorf("export.spreadsheet_id is required when export is enabled")
	}
	return nil
}
