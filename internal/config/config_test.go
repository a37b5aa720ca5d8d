package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LoggingLevel)
	assert.Equal(t, "text", cfg.Server.LogFormat)

	assert.Equal(t, 200, cfg.Timing.TTFTMillis)
	assert.Equal(t, 50, cfg.Timing.ITLMillis)
	assert.Equal(t, 16, cfg.Timing.DefaultMaxTok)

	assert.Equal(t, "tier-1", cfg.RateLimit.Tier)
	assert.False(t, cfg.RateLimit.Enabled)

	assert.Equal(t, 16, cfg.KVCache.BlockSize)
	assert.Equal(t, 4, cfg.KVCache.NumWorkers)
	assert.Equal(t, 1024, cfg.Cache.MinTokensForCache)
	assert.Equal(t, 300, cfg.Streaming.TimeoutSeconds)
	assert.InDelta(t, 0.01, cfg.Errors.Rate, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
  debug: true
  log_format: json
timing:
  response_delay: 250ms
  random_delay: true
  max_variance: 0.2
  ttft_ms: 100
  itl_ms: 25
rate_limit:
  enabled: true
  tier: free
  rpm: 10
safety:
  enable_safety_features: true
  enable_jailbreak_detection: true
error_injection:
  enabled: true
  rate: 0.05
  types: [internal_error, bad_gateway]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LoggingLevel)
	assert.Equal(t, "json", cfg.Server.LogFormat)

	assert.Equal(t, 250*time.Millisecond, cfg.Timing.ResponseDelay)
	assert.True(t, cfg.Timing.RandomDelay)
	assert.InDelta(t, 0.2, cfg.Timing.MaxVariance, 1e-9)
	assert.Equal(t, 100, cfg.Timing.TTFTMillis)
	assert.Equal(t, 25, cfg.Timing.ITLMillis)
	// Unset timing fields still get defaults.
	assert.Equal(t, 16, cfg.Timing.DefaultMaxTok)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "free", cfg.RateLimit.Tier)
	assert.Equal(t, 10, cfg.RateLimit.RPM)

	assert.True(t, cfg.Safety.SafetyFeatures)
	assert.True(t, cfg.Safety.JailbreakDetection)
	assert.False(t, cfg.Safety.Moderation)

	assert.True(t, cfg.Errors.Enabled)
	assert.InDelta(t, 0.05, cfg.Errors.Rate, 1e-9)
	assert.Equal(t, []string{"internal_error", "bad_gateway"}, cfg.Errors.Types)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "timing:\n  response_delay: banana\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response_delay")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad logging level", func(c *Config) { c.Server.LoggingLevel = "trace" }, "logging_level"},
		{"bad log format", func(c *Config) { c.Server.LogFormat = "xml" }, "log_format"},
		{"bad variance", func(c *Config) { c.Timing.MaxVariance = 1.5 }, "max_variance"},
		{"bad tier", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Tier = "platinum"
		}, "tier"},
		{"negative rpm", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RPM = -1
		}, "rpm"},
		{"auth without keys", func(c *Config) { c.Auth.RequireAPIKey = true }, "api_keys"},
		{"bad injection rate", func(c *Config) {
			c.Errors.Enabled = true
			c.Errors.Rate = 2.0
		}, "rate"},
		{"bad injection type", func(c *Config) {
			c.Errors.Enabled = true
			c.Errors.Types = []string{"kaboom"}
		}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAPIKeyFiles(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "keys.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk-one\n# comment\n\n  sk-two  \n"), 0o644))

	cfg := &Config{}
	cfg.Auth.APIKeys = []string{"sk-inline"}
	cfg.Auth.APIKeyFiles = []string{keyFile, filepath.Join(dir, "missing.txt")}
	cfg.Normalize()

	assert.Equal(t, []string{"sk-inline", "sk-one", "sk-two"}, cfg.Auth.APIKeys)
}
