package config

import (
	"strings"
	"time"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/marmos91/abfd/pkg/adapter/api"
)

// DefaultBaseMsgID is where the ABF range starts unless configured.
const DefaultBaseMsgID = 100

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced; explicit values are preserved. Store-specific
// defaults beyond what the sample config shows are left to the stores.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	if cfg.API.BaseMsgID == 0 {
		cfg.API.BaseMsgID = DefaultBaseMsgID
	}
	applyAPIAdapterDefaults(&cfg.Adapters.API)
	applyStoreDefaults(&cfg.Store, cfg.Adapters.API.MaxMessageSize)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyStoreDefaults fills store options. max_paths defaults to the most a
// policy_details message can carry within maxMessageSize, so that clients
// using the same limit can always read a dump.
func applyStoreDefaults(cfg *StoreConfig, maxMessageSize uint32) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	maxPaths := abfproto.MaxDetailsPaths(maxMessageSize)
	for _, opts := range []map[string]any{cfg.Memory, cfg.Badger} {
		if _, ok := opts["max_paths"]; !ok {
			opts["max_paths"] = maxPaths
		}
	}

	// Shown in generated config files.
	if _, ok := cfg.Badger["block_cache_size_mb"]; !ok {
		cfg.Badger["block_cache_size_mb"] = 64
	}
	if _, ok := cfg.Badger["index_cache_size_mb"]; !ok {
		cfg.Badger["index_cache_size_mb"] = 32
	}
}

// applyAPIAdapterDefaults mirrors the adapter's own defaults so they show
// up in generated config files and validation sees final values.
func applyAPIAdapterDefaults(cfg *api.Config) {
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.Address == "" {
		if cfg.Network == "unix" {
			cfg.Address = "/run/abfd/api.sock"
		} else {
			cfg.Address = "127.0.0.1:5002"
		}
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = rpc.DefaultMaxMessageSize
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 10 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// Used to generate sample configuration files, and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			API: api.Config{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
