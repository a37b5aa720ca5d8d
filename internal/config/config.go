package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Timing    TimingConfig    `yaml:"timing"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	KVCache   KVCacheConfig   `yaml:"kv_cache"`
	Cache     CacheConfig     `yaml:"prompt_cache"`
	Streaming StreamingConfig `yaml:"streaming"`
	Safety    SafetyConfig    `yaml:"safety"`
	Errors    ErrorInjection  `yaml:"error_injection"`
}

type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Debug        bool   `yaml:"debug"`
	LoggingLevel string `yaml:"logging_level"`
	LogFormat    string `yaml:"log_format"` // text or json
}

// TimingConfig controls simulated generation latency.
// Variance percentages are expressed as fractions, e.g. 0.1 = +/-10%.
type TimingConfig struct {
	ResponseDelay time.Duration
	RandomDelay   bool
	MaxVariance   float64
	TTFTMillis    int
	TTFTVariance  float64
	ITLMillis     int
	ITLVariance   float64
	DefaultMaxTok int
}

type AuthConfig struct {
	RequireAPIKey bool     `yaml:"require_api_key"`
	APIKeys       []string `yaml:"api_keys"`
	APIKeyFiles   []string `yaml:"api_key_files"`
}

type RateLimitConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tier    string `yaml:"tier"`
	RPM     int    `yaml:"rpm"` // explicit override, 0 = use tier
	TPM     int    `yaml:"tpm"` // explicit override, 0 = use tier
}

type KVCacheConfig struct {
	Enabled       bool    `yaml:"enabled"`
	BlockSize     int     `yaml:"block_size"`
	NumWorkers    int     `yaml:"num_workers"`
	OverlapWeight float64 `yaml:"overlap_weight"`
}

type CacheConfig struct {
	Enabled           bool `yaml:"enabled"`
	TTLSeconds        int  `yaml:"ttl_seconds"`
	MinTokensForCache int  `yaml:"min_tokens_for_cache"`
	MaxEntries        int  `yaml:"max_entries"`
}

type StreamingConfig struct {
	TimeoutSeconds      int  `yaml:"timeout_seconds"`
	TokenTimeoutSeconds int  `yaml:"token_timeout_seconds"`
	KeepAliveEnabled    bool `yaml:"keepalive_enabled"`
	KeepAliveSeconds    int  `yaml:"keepalive_interval_seconds"`
}

type SafetyConfig struct {
	ContextValidation    bool `yaml:"enable_context_validation"`
	Moderation           bool `yaml:"enable_moderation"`
	SafetyFeatures       bool `yaml:"enable_safety_features"`
	JailbreakDetection   bool `yaml:"enable_jailbreak_detection"`
	PrependSafetyMessage bool `yaml:"prepend_safety_message"`
}

type ErrorInjection struct {
	Enabled bool     `yaml:"enabled"`
	Rate    float64  `yaml:"rate"`
	Types   []string `yaml:"types"`
}

// UnmarshalYAML implements custom unmarshaling for TimingConfig so the
// response_delay field accepts duration strings ("50ms", "1s").
func (t *TimingConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		ResponseDelay string  `yaml:"response_delay"`
		RandomDelay   bool    `yaml:"random_delay"`
		MaxVariance   float64 `yaml:"max_variance"`
		TTFTMillis    int     `yaml:"ttft_ms"`
		TTFTVariance  float64 `yaml:"ttft_variance_pct"`
		ITLMillis     int     `yaml:"itl_ms"`
		ITLVariance   float64 `yaml:"itl_variance_pct"`
		DefaultMaxTok int     `yaml:"default_max_tokens"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	t.RandomDelay = temp.RandomDelay
	t.MaxVariance = temp.MaxVariance
	t.TTFTMillis = temp.TTFTMillis
	t.TTFTVariance = temp.TTFTVariance
	t.ITLMillis = temp.ITLMillis
	t.ITLVariance = temp.ITLVariance
	t.DefaultMaxTok = temp.DefaultMaxTok

	if temp.ResponseDelay == "" {
		t.ResponseDelay = 0
		return nil
	}
	duration, err := time.ParseDuration(temp.ResponseDelay)
	if err != nil {
		return fmt.Errorf("invalid response_delay: %w", err)
	}
	t.ResponseDelay = duration
	return nil
}

// ValidTiers lists the recognized rate-limit tier names.
var ValidTiers = []string{"free", "tier-1", "tier-2", "tier-3", "tier-4", "tier-5"}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every option at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in zero values with documented defaults and loads key files.
func (c *Config) Normalize() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.LoggingLevel == "" {
		if c.Server.Debug {
			c.Server.LoggingLevel = "debug"
		} else {
			c.Server.LoggingLevel = "info"
		}
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}

	if c.Timing.TTFTMillis == 0 {
		c.Timing.TTFTMillis = 200
	}
	if c.Timing.TTFTVariance == 0 {
		c.Timing.TTFTVariance = 0.1
	}
	if c.Timing.ITLMillis == 0 {
		c.Timing.ITLMillis = 50
	}
	if c.Timing.ITLVariance == 0 {
		c.Timing.ITLVariance = 0.1
	}
	if c.Timing.DefaultMaxTok == 0 {
		c.Timing.DefaultMaxTok = 16
	}

	if c.RateLimit.Tier == "" {
		c.RateLimit.Tier = "tier-1"
	}

	if c.KVCache.BlockSize == 0 {
		c.KVCache.BlockSize = 16
	}
	if c.KVCache.NumWorkers == 0 {
		c.KVCache.NumWorkers = 4
	}
	if c.KVCache.OverlapWeight == 0 {
		c.KVCache.OverlapWeight = 1.0
	}

	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.MinTokensForCache == 0 {
		c.Cache.MinTokensForCache = 1024
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}

	if c.Streaming.TimeoutSeconds == 0 {
		c.Streaming.TimeoutSeconds = 300
	}
	if c.Streaming.TokenTimeoutSeconds == 0 {
		c.Streaming.TokenTimeoutSeconds = 30
	}
	if c.Streaming.KeepAliveSeconds == 0 {
		c.Streaming.KeepAliveSeconds = 15
	}

	if c.Errors.Rate == 0 {
		c.Errors.Rate = 0.01
	}
	if len(c.Errors.Types) == 0 {
		c.Errors.Types = []string{"internal_error", "service_unavailable", "gateway_timeout"}
	}

	// API keys may also be provided as files with one key per line.
	for _, path := range c.Auth.APIKeyFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				c.Auth.APIKeys = append(c.Auth.APIKeys, line)
			}
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
	}

	if c.Server.LogFormat != "text" && c.Server.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Server.LogFormat)
	}

	if c.Timing.MaxVariance < 0 || c.Timing.MaxVariance > 1 {
		return fmt.Errorf("invalid max_variance: %f (must be in [0, 1])", c.Timing.MaxVariance)
	}
	if c.Timing.TTFTVariance < 0 || c.Timing.TTFTVariance > 1 {
		return fmt.Errorf("invalid ttft_variance_pct: %f (must be in [0, 1])", c.Timing.TTFTVariance)
	}
	if c.Timing.ITLVariance < 0 || c.Timing.ITLVariance > 1 {
		return fmt.Errorf("invalid itl_variance_pct: %f (must be in [0, 1])", c.Timing.ITLVariance)
	}

	if c.RateLimit.Enabled {
		valid := false
		for _, tier := range ValidTiers {
			if c.RateLimit.Tier == tier {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid rate_limit tier: %s", c.RateLimit.Tier)
		}
		if c.RateLimit.RPM < 0 || c.RateLimit.TPM < 0 {
			return fmt.Errorf("rpm/tpm overrides must be non-negative")
		}
	}

	if c.KVCache.BlockSize <= 0 {
		return fmt.Errorf("invalid kv_cache block_size: %d", c.KVCache.BlockSize)
	}
	if c.KVCache.NumWorkers <= 0 {
		return fmt.Errorf("invalid kv_cache num_workers: %d", c.KVCache.NumWorkers)
	}

	if c.Auth.RequireAPIKey && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("require_api_key is set but no api_keys configured")
	}

	if c.Errors.Enabled {
		if c.Errors.Rate < 0 || c.Errors.Rate > 1 {
			return fmt.Errorf("invalid error_injection rate: %f (must be in [0, 1])", c.Errors.Rate)
		}
		validTypes := map[string]bool{
			"internal_error":      true,
			"bad_gateway":         true,
			"service_unavailable": true,
			"gateway_timeout":     true,
			"rate_limit_quota":    true,
		}
		for _, t := range c.Errors.Types {
			if !validTypes[t] {
				return fmt.Errorf("invalid error_injection type: %s", t)
			}
		}
	}

	return nil
}
