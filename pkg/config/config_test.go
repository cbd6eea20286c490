package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Extraction.Concurrency)
	assert.Equal(t, 1000, cfg.Research.PollIntervalMs)
	assert.Equal(t, "standard", cfg.Research.DefaultDepth)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.True(t, cfg.Extraction.RespectRobots)
	assert.False(t, cfg.Redis.Enabled)
	assert.InDelta(t, 2.0, cfg.Search.RequestsPerSecond, 0.0001)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DEEP_RESEARCH_SERVER_PORT", "9090")
	t.Setenv("DEEP_RESEARCH_LLM_PROVIDER", "gemini")
	t.Setenv("DEEP_RESEARCH_SEARCH_EXAAPIKEY", "exa-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "exa-key", cfg.Search.ExaAPIKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	content := []byte("research:\n  defaultDepth: deep\nextraction:\n  concurrency: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "deep", cfg.Research.DefaultDepth)
	assert.Equal(t, 3, cfg.Extraction.Concurrency)
}
