package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CORS_ALLOWED_ORIGINS", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"OPENAI_TIMEOUT", "POLICY_CONFIG_PATH", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY",
		"ARK_MODEL", "ARK_TEMPERATURE", "ARK_MAX_TOKENS", "STORE_BACKEND", "LOG_LEVEL",
		"LOG_PRETTY", "FILTER_DETERMINISTIC",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, PlaceholderAPIKey, cfg.AI.APIKey)
	assert.True(t, cfg.AI.UsingPlaceholderKey())
	assert.Equal(t, "gpt-3.5-turbo", cfg.AI.Model)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.False(t, cfg.Policy.Enabled())
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Filter.Deterministic)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_TIMEOUT", "15")
	t.Setenv("POLICY_CONFIG_PATH", "rails.yaml")
	t.Setenv("ARK_API_KEY", "ark")
	t.Setenv("ARK_MODEL", "doubao")
	t.Setenv("ARK_MAX_TOKENS", "256")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("FILTER_DETERMINISTIC", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.False(t, cfg.AI.UsingPlaceholderKey())
	assert.Equal(t, 15*time.Second, cfg.AI.Timeout)
	assert.True(t, cfg.Policy.Enabled())
	require.NotNil(t, cfg.Policy.MaxTokens)
	assert.Equal(t, 256, *cfg.Policy.MaxTokens)
	assert.Equal(t, StoreRedis, cfg.Store.Backend)
	assert.True(t, cfg.Filter.Deterministic)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"PORT":           "80 80",
		"OPENAI_TIMEOUT": "soon",
		"ARK_MAX_TOKENS": "many",
		"STORE_BACKEND":  "mongo",
		"LOG_PRETTY":     "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestPolicyNewChatModelRequiresCredentials(t *testing.T) {
	_, err := PolicyConfig{Model: "doubao"}.NewChatModel(t.Context())
	assert.Error(t, err)
}
