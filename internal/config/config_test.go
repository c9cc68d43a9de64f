package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 15, cfg.Fetch.TimeoutSeconds)
	require.Equal(t, 51200, cfg.Classifier.SmallPageThresholdBytes)
	require.Empty(t, cfg.Classifier.RenderDomains)
	require.Equal(t, 2, cfg.Render.JSCapacity)
	require.Equal(t, 1, cfg.Render.PDFCapacity)
	require.Equal(t, 4, cfg.Batch.DefaultConcurrency)
	require.Equal(t, 16, cfg.Batch.MaxConcurrency)
	require.Equal(t, "markdown", cfg.Batch.DefaultFormat)
	require.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	require.Equal(t, "noop", cfg.Storage.Provider)
	require.False(t, cfg.Auth.Enabled)

	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, 5*time.Second, cfg.AcquireWait())
	require.Equal(t, 30*time.Second, cfg.TimeoutPerURL())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
classifier:
  small_page_threshold_bytes: 1024
  render_domains:
    - substack.com
    - medium.com
render:
  js_capacity: 4
batch:
  default_format: text
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 1024, cfg.Classifier.SmallPageThresholdBytes)
	require.Equal(t, []string{"substack.com", "medium.com"}, cfg.Classifier.RenderDomains)
	require.Equal(t, 4, cfg.Render.JSCapacity)
	require.Equal(t, "text", cfg.Batch.DefaultFormat)
	// Untouched keys keep their defaults.
	require.Equal(t, 1, cfg.Render.PDFCapacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SNAPFETCH_SERVER_PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad fetch timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }},
		{"bad threshold", func(c *Config) { c.Classifier.SmallPageThresholdBytes = 0 }},
		{"bad js capacity", func(c *Config) { c.Render.JSCapacity = 0 }},
		{"bad pdf capacity", func(c *Config) { c.Render.PDFCapacity = -1 }},
		{"bad default concurrency", func(c *Config) { c.Batch.DefaultConcurrency = 0 }},
		{"max below default", func(c *Config) { c.Batch.MaxConcurrency = 1 }},
		{"unknown format", func(c *Config) { c.Batch.DefaultFormat = "docx" }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
