package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default session lifetime.
	DefaultSessionTTL = "24h"

	// DefaultComfyBaseURL is the default base URL of the image
	// generation service.
	DefaultComfyBaseURL = "https://api.comfydeploy.com"

	// DefaultComfyTimeout is the default timeout for upstream requests.
	DefaultComfyTimeout = "15s"

	// DefaultPollInterval is the default interval between status pulls
	// for a watched run.
	DefaultPollInterval = "2s"

	// DefaultWatcherInterval is the default interval between background
	// sweep passes over non-terminal runs.
	DefaultWatcherInterval = "10s"

	// DefaultWatcherConcurrency is the number of runs reconciled in
	// parallel during a sweep pass.
	DefaultWatcherConcurrency = 4

	// DefaultPresignExpiry is the default lifetime of presigned URLs.
	DefaultPresignExpiry = "1h"

	// envPrefix is the prefix for environment variable overrides,
	// e.g. LOGOFORGE_GLOBAL_LOG_LEVEL.
	envPrefix = "LOGOFORGE"
)

// defaultOutputIDs is the default priority list of workflow output
// identifiers checked when resolving the final image. Workflows with
// different output node IDs override this via comfy.output_ids.
var defaultOutputIDs = []string{"343", "final_result", "8"}

// Config is the root configuration for logoforge.
type Config struct {
	Global   GlobalConfig   `yaml:"global" mapstructure:"global"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Comfy    ComfyConfig    `yaml:"comfy" mapstructure:"comfy"`
	Storage  StorageConfig  `yaml:"storage,omitempty" mapstructure:"storage"`
	Bus      *BusConfig     `yaml:"bus,omitempty" mapstructure:"bus"`
	Watcher  WatcherConfig  `yaml:"watcher,omitempty" mapstructure:"watcher"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads a configuration file and applies environment overrides.
// Every key present in the file can be overridden by an environment
// variable of the form LOGOFORGE_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides replaces file-sourced values with environment
// values, converting to the type already present for the key.
func applyEnvOverrides(v *viper.Viper) {
	replacer := strings.NewReplacer(".", "_")

	for _, key := range v.AllKeys() {
		envKey := envPrefix + "_" + strings.ToUpper(replacer.Replace(key))

		raw, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}

		switch v.Get(key).(type) {
		case bool:
			if parsed, err := strconv.ParseBool(raw); err == nil {
				v.Set(key, parsed)
			}
		case int, int64:
			if parsed, err := strconv.Atoi(raw); err == nil {
				v.Set(key, parsed)
			}
		case float64:
			if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
				v.Set(key, parsed)
			}
		default:
			v.Set(key, raw)
		}
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Comfy.BaseURL == "" {
		c.Comfy.BaseURL = DefaultComfyBaseURL
	}

	if c.Comfy.RequestTimeout == "" {
		c.Comfy.RequestTimeout = DefaultComfyTimeout
	}

	if c.Comfy.PollInterval == "" {
		c.Comfy.PollInterval = DefaultPollInterval
	}

	if len(c.Comfy.OutputIDs) == 0 {
		c.Comfy.OutputIDs = append([]string(nil), defaultOutputIDs...)
	}

	if c.Watcher.Interval == "" {
		c.Watcher.Interval = DefaultWatcherInterval
	}

	if c.Watcher.Concurrency <= 0 {
		c.Watcher.Concurrency = DefaultWatcherConcurrency
	}

	if c.Storage.S3 != nil && c.Storage.S3.PresignExpiry == "" {
		c.Storage.S3.PresignExpiry = DefaultPresignExpiry
	}
}

// Example returns a starter configuration with defaults applied and
// placeholder values for the required fields.
func Example() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteDatabaseConfig{Path: "logoforge.db"},
		},
		Auth: AuthConfig{
			Users: []BasicAuthUser{
				{Username: "admin", Password: "change-me", Role: "admin"},
			},
		},
		Comfy: ComfyConfig{
			APIKey:          "your-api-key",
			DeploymentID:    "your-deployment-id",
			CallbackBaseURL: "https://logoforge.example.com",
		},
		Storage: StorageConfig{
			Local: &LocalStorageConfig{
				Enabled: true,
				Root:    "uploads",
			},
		},
		Watcher: WatcherConfig{Enabled: true},
	}

	cfg.applyDefaults()

	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	case "":
		return fmt.Errorf("database.driver is required")
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Comfy.APIKey == "" {
		return fmt.Errorf("comfy.api_key is required")
	}

	if c.Comfy.DeploymentID == "" {
		return fmt.Errorf("comfy.deployment_id is required")
	}

	if c.Comfy.CallbackBaseURL == "" && c.Comfy.TunnelURLFile == "" {
		return fmt.Errorf(
			"comfy.callback_base_url or comfy.tunnel_url_file is required",
		)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"auth.session_ttl", c.Auth.SessionTTL},
		{"comfy.request_timeout", c.Comfy.RequestTimeout},
		{"comfy.poll_interval", c.Comfy.PollInterval},
		{"watcher.interval", c.Watcher.Interval},
	}

	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}

		if _, err := time.ParseDuration(c.Storage.S3.PresignExpiry); err != nil {
			return fmt.Errorf("parsing storage.s3.presign_expiry: %w", err)
		}
	}

	if c.Storage.Local != nil && c.Storage.Local.Enabled {
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("storage.local.root is required")
		}
	}

	if c.Bus != nil && c.Bus.Enabled && c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required when the bus is enabled")
	}

	return nil
}
