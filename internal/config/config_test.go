package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingAPIKeyFails(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadAppliesEnvOverDefault(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "test-key", cfg.GeminiAPIKey)
	require.True(t, cfg.Debug)
	require.Equal(t, 6, cfg.Tournament.MaxHypotheses)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "deep-reasoning.jsonc")
	contents := `{
		// tuning
		"sessionIdleTimeoutSeconds": 120,
		"tournament": { "maxHypotheses": 3, "maxRounds": 1, "eliminationThreshold": 0.5, "parallelism": 2, "crossPollinationEnabled": false }
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Tournament.MaxHypotheses)
	require.False(t, cfg.Tournament.CrossPollinationEnabled)
}
