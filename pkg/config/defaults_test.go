package config

import (
	"testing"
	"time"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/marmos91/abfd/internal/protocol/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults_Empty(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 9090, cfg.Server.Metrics.Port)
	assert.Equal(t, uint32(DefaultBaseMsgID), cfg.API.BaseMsgID)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.NotNil(t, cfg.Store.Memory)
	assert.Equal(t, 64, cfg.Store.Badger["block_cache_size_mb"])
	assert.Equal(t, abfproto.MaxDetailsPaths(rpc.DefaultMaxMessageSize), cfg.Store.Memory["max_paths"])
	assert.Equal(t, abfproto.MaxDetailsPaths(rpc.DefaultMaxMessageSize), cfg.Store.Badger["max_paths"])

	api := cfg.Adapters.API
	assert.Equal(t, "tcp", api.Network)
	assert.Equal(t, "127.0.0.1:5002", api.Address)
	assert.Equal(t, uint32(rpc.DefaultMaxMessageSize), api.MaxMessageSize)
	assert.Equal(t, 10*time.Second, api.Timeouts.Write)
	assert.Equal(t, 5*time.Minute, api.Timeouts.Idle)
}

func TestApplyDefaults_PreservesExplicit(t *testing.T) {
	cfg := Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "/var/log/abfd.log"},
		Server:  ServerConfig{ShutdownTimeout: time.Second},
		Store:   StoreConfig{Type: "badger", Badger: map[string]any{"block_cache_size_mb": 8}},
	}
	cfg.API.BaseMsgID = 1000
	cfg.Adapters.API.Network = "unix"
	ApplyDefaults(&cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, uint32(1000), cfg.API.BaseMsgID)
	assert.Equal(t, 8, cfg.Store.Badger["block_cache_size_mb"])
	assert.Equal(t, "/run/abfd/api.sock", cfg.Adapters.API.Address)
}

func TestApplyDefaults_MaxPathsFollowsMessageSize(t *testing.T) {
	var cfg Config
	cfg.Adapters.API.MaxMessageSize = 64 << 10
	cfg.Store.Memory = map[string]any{"max_paths": 7}
	ApplyDefaults(&cfg)

	assert.Equal(t, 7, cfg.Store.Memory["max_paths"])
	assert.Equal(t, abfproto.MaxDetailsPaths(64<<10), cfg.Store.Badger["max_paths"])
	assert.Less(t, cfg.Store.Badger["max_paths"], abfproto.MaxDetailsPaths(rpc.DefaultMaxMessageSize))
}

func TestGetDefaultConfig_Valid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.True(t, cfg.Adapters.API.Enabled)
}
