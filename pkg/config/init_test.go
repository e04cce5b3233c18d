package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfigPath(), configPath)
	assert.True(t, ConfigExists())

	content, err := os.ReadFile(configPath)
	require.NoError(t, err)

	for _, section := range []string{
		"# abfd Configuration File",
		"logging:",
		"server:",
		"api:",
		"store:",
		"adapters:",
		"shutdown_timeout: 30s",
	} {
		assert.Contains(t, string(content), section)
	}

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(content, &doc))
}

func TestInitConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abfd.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig().Adapters.API, cfg.Adapters.API)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, uint32(DefaultBaseMsgID), cfg.API.BaseMsgID)
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := InitConfig(false)
	require.NoError(t, err)

	_, err = InitConfig(false)
	assert.ErrorContains(t, err, "already exists")
}

func TestInitConfig_ForceOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	require.NoError(t, InitConfigToPath(path, true))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "garbage")
}
