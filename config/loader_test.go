package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Engine.MaxToolChain)
	assert.Equal(t, 2*time.Minute, cfg.Handoff.InactivityThreshold)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "memory", cfg.Experiments.Store)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Persistence.MaxRetries)
}

func TestLoaderDefaultsWhenNoFile(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
}

func TestLoaderYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  http_port: 9999
engine:
  max_tool_chain: 5
handoff:
  inactivity_threshold: 90s
experiments:
  experiments:
    - name: greeting_tone
      variants:
        - name: friendly
          weight: 25
        - name: formal
          weight: 25
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Engine.MaxToolChain)
	assert.Equal(t, 90*time.Second, cfg.Handoff.InactivityThreshold)
	require.Len(t, cfg.Experiments.Experiments, 1)
	assert.Equal(t, "greeting_tone", cfg.Experiments.Experiments[0].Name)
	assert.Len(t, cfg.Experiments.Experiments[0].Variants, 2)
	// Untouched sections keep defaults.
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoaderEnvOverride(t *testing.T) {
	t.Setenv("CHATCORE_SERVER_HTTP_PORT", "7070")
	t.Setenv("CHATCORE_LLM_API_KEY", "sk-test")
	t.Setenv("CHATCORE_HANDOFF_INACTIVITY_THRESHOLD", "3m")
	t.Setenv("CHATCORE_REDIS_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 3*time.Minute, cfg.Handoff.InactivityThreshold)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoaderMissingFileIsNotAnError(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Engine.MaxToolChain = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Experiments.Experiments = []ExperimentConfig{{
		Name: "overweight",
		Variants: []VariantConfig{
			{Name: "a", Weight: 60},
			{Name: "b", Weight: 60},
		},
	}}
	assert.Error(t, cfg.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "chatcore", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=chatcore sslmode=disable", d.DSN())

	d = DatabaseConfig{Driver: "sqlite", Name: "file::memory:?cache=shared"}
	assert.Equal(t, "file::memory:?cache=shared", d.DSN())
}
