package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	keys := []string{
		KeyDataDir, KeySigningKey, KeyCatalogPath, KeyHassBaseURL, KeyHassToken,
		KeyOllamaBaseURL, KeyModel, KeyMaxInputChars, KeyMaxHistoryTurns,
		KeyHistoryMaxAgeDays, KeyPromptHistoryTurns, KeyMaxContextEntities,
	}
	orig := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		orig[k] = viper.Get(k)
	}
	t.Cleanup(func() {
		for k, v := range orig {
			viper.Set(k, v)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHassURL, cfg.HassBaseURL)
	assert.Equal(t, DefaultOllamaURL, cfg.OllamaBaseURL)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultMaxInputChars, cfg.MaxInputChars)
	assert.Equal(t, DefaultMaxHistoryTurns, cfg.MaxHistoryTurns)
	assert.Equal(t, DefaultHistoryMaxAgeDays, cfg.HistoryMaxAgeDays)
	assert.Equal(t, DefaultPromptHistoryTurns, cfg.PromptHistoryTurns)
	assert.Equal(t, DefaultMaxContextEntities, cfg.MaxContextEntities)
}

func TestDerivedSigningKey(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	viper.Set(KeyDataDir, dir)
	viper.Set(KeySigningKey, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.GreaterOrEqual(t, len(cfg.SigningKey), 32)

	// Derivation is deterministic for the same data dir.
	cfg2, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.SigningKey, cfg2.SigningKey)
}

func TestExplicitSigningKey(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "an-explicit-key-that-is-32-bytes!")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.UsingDefaultSigningKey())
}

func TestValidation(t *testing.T) {
	t.Run("short explicit key rejected", func(t *testing.T) {
		resetViper(t)
		viper.Set(KeyDataDir, t.TempDir())
		viper.Set(KeySigningKey, "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive limits rejected", func(t *testing.T) {
		resetViper(t)
		viper.Set(KeyDataDir, t.TempDir())
		viper.Set(KeySigningKey, "")
		viper.Set(KeyMaxInputChars, 0)

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("prompt turns may not exceed history cap", func(t *testing.T) {
		resetViper(t)
		viper.Set(KeyDataDir, t.TempDir())
		viper.Set(KeySigningKey, "")
		viper.Set(KeyMaxHistoryTurns, 10)
		viper.Set(KeyPromptHistoryTurns, 20)

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestPaths(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	viper.Set(KeyDataDir, dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir+"/history.db", cfg.HistoryDBPath())
	assert.Equal(t, dir+"/security.log", cfg.AuditLogPath())
}
