package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/pkg/adapter/api"
	"github.com/spf13/viper"
)

// Config is the complete abfd configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (ABFD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The store
// section holds one map per store type, and only the map matching the
// selected type is decoded (see CreateStore).
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// API configures the ABF message range.
	API abfproto.Config `mapstructure:"api" yaml:"api"`

	Store StoreConfig `mapstructure:"store" yaml:"store"`

	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive, normalized to
	// uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path. Files are rotated.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`

	// Rotation settings for file output.
	MaxSizeMB  int  `mapstructure:"max_size_mb" validate:"min=0" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" validate:"min=0" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" validate:"min=0" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Host restricts the listen address. Empty listens everywhere.
	Host string `mapstructure:"host" yaml:"host"`
}

// StoreConfig selects the policy store.
type StoreConfig struct {
	// Type is memory or badger.
	Type string `mapstructure:"type" validate:"required,oneof=memory badger" yaml:"type"`

	// Memory is decoded into memory.Config when Type = "memory".
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger is decoded into badger.Config when Type = "badger".
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// AdaptersConfig contains the protocol adapter configurations.
type AdaptersConfig struct {
	// API uses the adapter's own config type to avoid duplication.
	API api.Config `mapstructure:"api" yaml:"api"`
}

// Load loads configuration from file, environment and defaults, then
// validates it. An empty configPath searches the default location; a
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys lists the keys that can be set from the environment without
// appearing in the file. AutomaticEnv alone only overrides keys viper
// already knows about.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"api.base_msg_id",
	"store.type",
	"adapters.api.enabled",
	"adapters.api.network",
	"adapters.api.address",
	"adapters.api.max_connections",
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: ABFD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("ABFD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// The API adapter is the only front end; run it unless told otherwise.
	v.SetDefault("adapters.api.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/abfd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir uses XDG_CONFIG_HOME if set, otherwise ~/.config, or the
// current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "abfd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "abfd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
