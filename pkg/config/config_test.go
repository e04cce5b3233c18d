package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  shutdown_timeout: 15s
  metrics:
    enabled: true
    port: 9191
api:
  base_msg_id: 500
store:
  type: badger
  badger:
    max_policies: 10
adapters:
  api:
    enabled: true
    network: unix
    address: /tmp/abfd-test.sock
    max_connections: 4
    timeouts:
      idle: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Server.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Server.Metrics.Port)
	assert.Equal(t, uint32(500), cfg.API.BaseMsgID)
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.EqualValues(t, 10, cfg.Store.Badger["max_policies"])
	assert.Equal(t, "unix", cfg.Adapters.API.Network)
	assert.Equal(t, "/tmp/abfd-test.sock", cfg.Adapters.API.Address)
	assert.Equal(t, 4, cfg.Adapters.API.MaxConnections)
	assert.Equal(t, time.Minute, cfg.Adapters.API.Timeouts.Idle)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, uint32(DefaultBaseMsgID), cfg.API.BaseMsgID)
	assert.True(t, cfg.Adapters.API.Enabled)
	assert.Equal(t, "127.0.0.1:5002", cfg.Adapters.API.Address)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
adapters:
  api:
    enabled: true
`)
	t.Setenv("ABFD_LOGGING_LEVEL", "warn")
	t.Setenv("ABFD_API_BASE_MSG_ID", "300")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, uint32(300), cfg.API.BaseMsgID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"BadLevel", "logging:\n  level: loud\nadapters:\n  api:\n    enabled: true\n"},
		{"BaseTooLow", "api:\n  base_msg_id: 3\nadapters:\n  api:\n    enabled: true\n"},
		{"BaseTooHigh", "api:\n  base_msg_id: 65530\nadapters:\n  api:\n    enabled: true\n"},
		{"UnknownStore", "store:\n  type: s3\nadapters:\n  api:\n    enabled: true\n"},
		{"NoAdapter", "adapters:\n  api:\n    enabled: false\n"},
		{"BadYAML", "logging: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestGetConfigDir(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	assert.Equal(t, filepath.Join(xdg, "abfd"), GetConfigDir())
	assert.Equal(t, filepath.Join(xdg, "abfd", "config.yaml"), GetDefaultConfigPath())
	assert.False(t, ConfigExists())
}
