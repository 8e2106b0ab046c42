package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MISTRAL_API_KEY", "GOOGLE_VISION_API_KEY", "REDIS_URL", "LOG_LEVEL", "LOG_FORMAT",
		"DOCINGEST_THRESHOLD", "DOCINGEST_WORKERS", "DOCINGEST_REFERENCES_DIR",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.15, cfg.Classifier.Threshold)
	assert.Equal(t, 200, cfg.PDF.DPI)
	assert.Equal(t, 300, cfg.PDF.ExtractionDPI)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, "interleaved", cfg.Pipeline.CombineMode)
	assert.True(t, cfg.Pipeline.SkipBlankPages)
	assert.Equal(t, 60*time.Second, cfg.Engines.Timeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_FileAndRelativeReferences(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "docingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classifier:
  threshold: 0.2
  references:
    - refs/schematic.png
    - /abs/wiring.png
  references_dir: refs
pipeline:
  workers: 5
  combine_mode: grouped
engines:
  timeout: 30s
store:
  driver: redis
  redis:
    addr: redis:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Classifier.Threshold)
	assert.Equal(t, []string{filepath.Join(dir, "refs/schematic.png"), "/abs/wiring.png"}, cfg.Classifier.References)
	assert.Equal(t, filepath.Join(dir, "refs"), cfg.Classifier.ReferencesDir)
	assert.Equal(t, 5, cfg.Pipeline.Workers)
	assert.Equal(t, "grouped", cfg.Pipeline.CombineMode)
	assert.Equal(t, 30*time.Second, cfg.Engines.Timeout)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	// untouched defaults survive
	assert.Equal(t, 50, cfg.Classifier.MatchDistance)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MISTRAL_API_KEY", "m-key")
	t.Setenv("GOOGLE_VISION_API_KEY", "g-key")
	t.Setenv("REDIS_URL", "redis://localhost:6390/2")
	t.Setenv("DOCINGEST_THRESHOLD", "0.3")
	t.Setenv("DOCINGEST_WORKERS", "8")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "m-key", cfg.Engines.Prose.APIKey)
	assert.Equal(t, "g-key", cfg.Engines.Diagram.APIKey)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6390/2", cfg.Store.Redis.URL)
	assert.Equal(t, 0.3, cfg.Classifier.Threshold)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCINGEST_THRESHOLD", "high")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCINGEST_THRESHOLD")
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pipeline: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dpi too low", func(c *Config) { c.PDF.DPI = 10 }},
		{"extraction dpi too high", func(c *Config) { c.PDF.ExtractionDPI = 1200 }},
		{"jpeg quality", func(c *Config) { c.PDF.JPEGQuality = 0 }},
		{"negative threshold", func(c *Config) { c.Classifier.Threshold = -0.1 }},
		{"match distance", func(c *Config) { c.Classifier.MatchDistance = 0 }},
		{"blank ratio", func(c *Config) { c.Classifier.BlankRatio = 1.5 }},
		{"diagram provider", func(c *Config) { c.Engines.Diagram.Provider = "abbyy" }},
		{"workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"combine mode", func(c *Config) { c.Pipeline.CombineMode = "random" }},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
