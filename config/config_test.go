package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaults(t *testing.T) {
	t.Setenv("DAILY_MESSAGE_LIMIT", "")
	t.Setenv("EXECUTION_TIMEOUT", "")
	t.Setenv("OPENROUTER_BASE_URL", "")
	t.Setenv("CHAT_STORE", "")
	t.Setenv("MAX_AUTO_RETRIES", "")

	env, err := Get()
	require.NoError(t, err)
	assert.Equal(t, 50, env.DAILY_MESSAGE_LIMIT)
	assert.Equal(t, 60*time.Second, env.EXECUTION_TIMEOUT)
	assert.Equal(t, "https://openrouter.ai/api/v1", env.OPENROUTER_BASE_URL)
	assert.Equal(t, "postgres", env.CHAT_STORE)
	assert.Equal(t, 2, env.MAX_AUTO_RETRIES)
}

func TestGetRejectsBadNumbers(t *testing.T) {
	t.Setenv("DAILY_MESSAGE_LIMIT", "fifty")
	_, err := Get()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DAILY_MESSAGE_LIMIT")

	t.Setenv("DAILY_MESSAGE_LIMIT", "10")
	t.Setenv("EXECUTION_TIMEOUT", "soon")
	_, err = Get()
	require.Error(t, err)
}

func TestRequire(t *testing.T) {
	_, err := Require("OPENROUTER_API_KEY", "")
	require.EqualError(t, err, "missing required env var: OPENROUTER_API_KEY")

	v, err := Require("OPENROUTER_API_KEY", "sk-1")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", v)
}

func TestEmbeddedCatalog(t *testing.T) {
	c, err := LoadCatalog("", "")
	require.NoError(t, err)

	def, ok := c.Default()
	require.True(t, ok)
	assert.Equal(t, "deepseek-v3-1", def.Slug)
	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", def.Model)

	m, ok := c.Lookup("qwen3-coder-free")
	require.True(t, ok)
	assert.Equal(t, 262144, m.ContextLength)
	assert.Equal(t, "openrouter", m.Provider)
}

func TestCatalogDefaultOverride(t *testing.T) {
	c, err := LoadCatalog("", "anthropic/claude-3.5-sonnet")
	require.NoError(t, err)
	def, _ := c.Default()
	assert.Equal(t, "anthropic/claude-3.5-sonnet", def.Model)
}

func TestParseCatalogValidation(t *testing.T) {
	_, err := ParseCatalog([]byte("models: []"), "")
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("models:\n  - slug: a\n    model: x\n  - slug: a\n    model: y\n"), "")
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseCatalog([]byte("models:\n  - slug: a\n    model: x\n    default: true\n  - slug: b\n    model: y\n    default: true\n"), "")
	assert.ErrorContains(t, err, "more than one default")

	c, err := ParseCatalog([]byte("models:\n  - slug: a\n    model: x\n"), "")
	require.NoError(t, err)
	_, ok := c.Default()
	assert.False(t, ok)
}
