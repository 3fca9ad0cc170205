package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Profile selects how strictly configuration is validated. Production
// fails closed: required secrets must be supplied, never defaulted.
const (
	ProfileProduction = "production"
	ProfileLocal      = "local"
)

// Config holds all configuration settings. Both tag sets are needed:
// viper decodes through mapstructure, yaml covers direct marshalling.
type Config struct {
	// Profile is "production" or "local".
	Profile string `mapstructure:"profile" yaml:"profile"`

	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Webhook   WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Ingestion IngestionConfig `mapstructure:"ingestion" yaml:"ingestion"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type StorageConfig struct {
	// Type is "postgres" or "sqlite".
	Type        string        `mapstructure:"type" yaml:"type"`
	PostgresDSN string        `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	LocalPath   string        `mapstructure:"local_path" yaml:"local_path"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type WebhookConfig struct {
	// Secret authenticates inbound push payloads. Required in the
	// production profile; the transport layer consumes it.
	Secret string `mapstructure:"secret" yaml:"secret"`
}

type IngestionConfig struct {
	Workers         int           `mapstructure:"workers" yaml:"workers"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // pipeline starts per second, 0 = unlimited
	StorageAttempts int           `mapstructure:"storage_attempts" yaml:"storage_attempts"`
	StorageBackoff  time.Duration `mapstructure:"storage_backoff" yaml:"storage_backoff"`
}

type RetryConfig struct {
	QueuePath string `mapstructure:"queue_path" yaml:"queue_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Default returns the local-profile defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".committrace")
	return &Config{
		Profile: ProfileLocal,
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(base, "commits.db"),
			Timeout:   10 * time.Second,
		},
		Ingestion: IngestionConfig{
			Workers:         4,
			StorageAttempts: 3,
			StorageBackoff:  200 * time.Millisecond,
		},
		Retry: RetryConfig{
			QueuePath: filepath.Join(base, "retry.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from file, environment, and .env files,
// then validates it for the selected profile.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("profile", cfg.Profile)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("ingestion", cfg.Ingestion)
	v.SetDefault("retry", cfg.Retry)
	v.SetDefault("log", cfg.Log)

	v.SetEnvPrefix("COMMITTRACE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".committrace")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".committrace"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces profile rules. The production profile accepts no
// compiled-in fallback for secrets or the database DSN.
func (c *Config) Validate() error {
	switch c.Profile {
	case ProfileProduction:
		if c.Storage.Type != "postgres" {
			return fmt.Errorf("production profile requires postgres storage, got %q", c.Storage.Type)
		}
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("production profile requires COMMITTRACE_DATABASE_URL or storage.postgres_dsn")
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("production profile requires COMMITTRACE_WEBHOOK_SECRET")
		}
	case ProfileLocal:
		if c.Storage.Type == "sqlite" && c.Storage.LocalPath == "" {
			return fmt.Errorf("sqlite storage requires storage.local_path")
		}
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.Storage.Timeout <= 0 {
		c.Storage.Timeout = 10 * time.Second
	}
	return nil
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".committrace", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if profile := os.Getenv("COMMITTRACE_PROFILE"); profile != "" {
		cfg.Profile = profile
	}
	if dsn := os.Getenv("COMMITTRACE_DATABASE_URL"); dsn != "" {
		cfg.Storage.Type = "postgres"
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("COMMITTRACE_SQLITE_PATH"); path != "" {
		cfg.Storage.Type = "sqlite"
		cfg.Storage.LocalPath = path
	}
	if secret := os.Getenv("COMMITTRACE_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if workers := os.Getenv("COMMITTRACE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Ingestion.Workers = n
		}
	}
	if level := os.Getenv("COMMITTRACE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}
