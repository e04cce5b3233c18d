package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("INFO") })

	t.Run("AcceptsAnyCase", func(t *testing.T) {
		SetLevel("debug")
		assert.True(t, Enabled(LevelDebug))

		SetLevel("ERROR")
		assert.False(t, Enabled(LevelWarn))
		assert.True(t, Enabled(LevelError))
	})

	t.Run("IgnoresUnknownLevel", func(t *testing.T) {
		SetLevel("WARN")
		SetLevel("verbose")
		assert.False(t, Enabled(LevelInfo))
		assert.True(t, Enabled(LevelWarn))
	})
}

func TestInitFileOutput(t *testing.T) {
	t.Cleanup(func() {
		_ = Init(Config{Level: "INFO", Format: "text", Output: "stdout"})
	})

	path := filepath.Join(t.TempDir(), "logs", "abfd.log")
	require.NoError(t, Init(Config{Level: "DEBUG", Format: "json", Output: path, MaxSizeMB: 1}))

	Debug("policy %d created", 42)
	Info("attached to %s", "eth0")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"msg":"policy 42 created"`)
	assert.Contains(t, lines[0], `"level":"DEBUG"`)
	assert.Contains(t, lines[1], "attached to eth0")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}
