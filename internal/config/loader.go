package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}

	// Load secrets from environment
	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// Parse decodes TOML, applies defaults and validates the result.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults
	applyDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Additional input security validation
	if err := cfg.ValidateInputs(); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Batch.StorageDir == "" {
		cfg.Batch.StorageDir = DefaultStorageDir
	}
	if cfg.Batch.Endpoint == "" {
		cfg.Batch.Endpoint = DefaultEndpoint
	}
	if cfg.Batch.PollIntervalSeconds == 0 {
		cfg.Batch.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if cfg.Batch.StoreBackend == "" {
		cfg.Batch.StoreBackend = DefaultStoreBackend
	}
	if cfg.Batch.CompletionWindow == "" {
		cfg.Batch.CompletionWindow = DefaultCompletionWindow
	}
	// A pointer tells an omitted repair_content apart from an explicit false
	if cfg.Batch.RepairContent == nil {
		repair := DefaultRepairContent
		cfg.Batch.RepairContent = &repair
	}

	if cfg.OpenAI.TimeoutSeconds == 0 {
		cfg.OpenAI.TimeoutSeconds = DefaultTimeoutSeconds
	}
	// NOTE: In TOML, we can't distinguish 0 from unset, so:
	// - Unset (0) → defaults to 2
	// - Explicitly set to -1 → no SDK retries
	if cfg.OpenAI.MaxRetries == 0 {
		cfg.OpenAI.MaxRetries = DefaultMaxRetries
	}
	if cfg.OpenAI.RateLimitPerMinute == 0 {
		cfg.OpenAI.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
}
