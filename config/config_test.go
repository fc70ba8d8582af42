package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, DefaultBodySizeLimit, cfg.Server.BodySizeLimit)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "data/promptkeeper.db", cfg.Storage.SQLitePath)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 1000, cfg.History.BufferSize)
	assert.Equal(t, 5*time.Second, cfg.History.FlushInterval)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("API_KEY", "secret")
	t.Setenv("STORAGE_TYPE", "postgresql")
	t.Setenv("POSTGRES_URL", "postgres://localhost/promptkeeper")
	t.Setenv("HISTORY_ENABLED", "false")
	t.Setenv("HISTORY_FLUSH_INTERVAL", "500ms")
	t.Setenv("AVAILABLE_MODELS", "gpt-4o-mini, anthropic/claude-sonnet-4 ,,gemini-2.0-flash")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "postgresql", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/promptkeeper", cfg.Storage.PostgresURL)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.History.FlushInterval)
	assert.Equal(t,
		[]string{"gpt-4o-mini", "anthropic/claude-sonnet-4", "gemini-2.0-flash"},
		cfg.Server.AvailableModels)
}

func TestSplitModels(t *testing.T) {
	assert.Nil(t, splitModels(""))
	assert.Equal(t, []string{"a"}, splitModels("a"))
	assert.Equal(t, []string{"a", "b"}, splitModels(" a , b "))
}
