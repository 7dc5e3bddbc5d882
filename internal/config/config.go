package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lamim/vellumbatch/internal/batch"
	"github.com/lamim/vellumbatch/internal/cost"
	"github.com/lamim/vellumbatch/internal/fingerprint"
)

// Config represents the complete application configuration
type Config struct {
	Batch   BatchConfig   `toml:"batch"`
	OpenAI  OpenAIConfig  `toml:"openai"`
	Pricing cost.Pricing  `toml:"pricing"`
	Metrics MetricsConfig `toml:"metrics"`
}

// BatchConfig holds partitioning, storage and reconciliation settings
type BatchConfig struct {
	RunID               string `toml:"run_id"`                // Identifies the run; reusing it resumes the run
	StorageDir          string `toml:"storage_dir"`           // Root of run directories (default: output/batches)
	Endpoint            string `toml:"endpoint"`              // Remote endpoint every request targets (default: /v1/chat/completions)
	CostCeiling         int    `toml:"cost_ceiling"`          // Max summed request cost per batch (0 = unbounded)
	CountCeiling        int    `toml:"count_ceiling"`         // Max requests per batch (0 = unbounded)
	PollIntervalSeconds int    `toml:"poll_interval_seconds"` // Sleep between status rounds (default: 60)
	StoreBackend        string `toml:"store_backend"`         // "file" or "sqlite" (default: file)
	RepairContent       *bool  `toml:"repair_content"`        // Repair truncated JSON in response content (default: true)
	ResponseSchema      string `toml:"response_schema"`       // Optional JSON Schema file for repaired documents
	CompletionWindow    string `toml:"completion_window"`     // Remote completion window (default: 24h)
}

// OpenAIConfig holds settings for the OpenAI-compatible batch service
type OpenAIConfig struct {
	BaseURL            string `toml:"base_url"`              // Optional; the SDK default is used when empty
	TimeoutSeconds     int    `toml:"timeout_seconds"`       // Per-call HTTP timeout (default: 300)
	MaxRetries         int    `toml:"max_retries"`           // SDK transport retries (default: 2, -1 = none)
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"` // Remote calls per minute across all jobs (default: 60)
}

// MetricsConfig holds the optional Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"` // e.g. ":9090"; empty disables the endpoint
}

// RepairEnabled reports whether response content goes through the repair engine
func (b *BatchConfig) RepairEnabled() bool {
	return b.RepairContent == nil || *b.RepairContent
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

const (
	// MaxCountCeiling is the largest number of requests the batch API accepts per job
	MaxCountCeiling = 50000
	// MaxPollIntervalSeconds bounds the sleep between polling rounds
	MaxPollIntervalSeconds = 24 * 60 * 60
	// MaxRateLimitPerMinute bounds the remote call rate
	MaxRateLimitPerMinute = 10000
)

var completionWindows = map[string]bool{"24h": true}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Batch.RunID == "" {
		return fmt.Errorf("batch.run_id is required")
	}
	if c.Batch.Endpoint == "" {
		return fmt.Errorf("batch.endpoint is required")
	}
	if c.Batch.CostCeiling < 0 {
		return fmt.Errorf("batch.cost_ceiling must not be negative (got %d)", c.Batch.CostCeiling)
	}
	if c.Batch.CountCeiling < 0 || c.Batch.CountCeiling > MaxCountCeiling {
		return fmt.Errorf("batch.count_ceiling must be between 0 and %d (got %d)", MaxCountCeiling, c.Batch.CountCeiling)
	}
	if c.Batch.PollIntervalSeconds < 1 || c.Batch.PollIntervalSeconds > MaxPollIntervalSeconds {
		return fmt.Errorf("batch.poll_interval_seconds must be between 1 and %d (got %d)", MaxPollIntervalSeconds, c.Batch.PollIntervalSeconds)
	}
	switch c.Batch.StoreBackend {
	case fingerprint.BackendFile, fingerprint.BackendSQLite:
	default:
		return fmt.Errorf("batch.store_backend must be one of: file, sqlite (got %s)", c.Batch.StoreBackend)
	}
	if !completionWindows[c.Batch.CompletionWindow] {
		return fmt.Errorf("batch.completion_window must be 24h (got %s)", c.Batch.CompletionWindow)
	}
	if c.Batch.ResponseSchema != "" && !c.Batch.RepairEnabled() {
		return fmt.Errorf("batch.response_schema requires batch.repair_content = true")
	}

	if c.OpenAI.TimeoutSeconds < 1 {
		return fmt.Errorf("openai.timeout_seconds must be at least 1")
	}
	if c.OpenAI.MaxRetries < -1 {
		return fmt.Errorf("openai.max_retries must be -1 or greater (got %d)", c.OpenAI.MaxRetries)
	}
	if c.OpenAI.RateLimitPerMinute < 1 || c.OpenAI.RateLimitPerMinute > MaxRateLimitPerMinute {
		return fmt.Errorf("openai.rate_limit_per_minute must be between 1 and %d (got %d)", MaxRateLimitPerMinute, c.OpenAI.RateLimitPerMinute)
	}

	if c.Pricing.InputPerMillion < 0 || c.Pricing.OutputPerMillion < 0 {
		return fmt.Errorf("pricing must not be negative")
	}

	return nil
}

// Limits converts the configured ceilings; zero means unbounded
func (c *Config) Limits() batch.Limits {
	var limits batch.Limits
	if c.Batch.CostCeiling > 0 {
		v := c.Batch.CostCeiling
		limits.CostCeiling = &v
	}
	if c.Batch.CountCeiling > 0 {
		v := c.Batch.CountCeiling
		limits.CountCeiling = &v
	}
	return limits
}

// PollInterval returns the sleep between polling rounds
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Batch.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-call HTTP timeout
func (c *OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SDKRetries converts max_retries to the SDK's retry count
func (c *OpenAIConfig) SDKRetries() int {
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Load generic API key (provider-agnostic)
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific keys override the generic one for their hosts
	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			secrets.APIKeys[p.name] = key
		}
	}

	return secrets, nil
}

type provider struct {
	name   string
	envVar string
	hosts  []string
}

// providers with an OpenAI-compatible batch API
var providers = []provider{
	{name: "openai", envVar: "OPENAI_API_KEY", hosts: []string{"openai.com"}},
	{name: "together", envVar: "TOGETHER_API_KEY", hosts: []string{"together.xyz", "together.ai"}},
	{name: "groq", envVar: "GROQ_API_KEY", hosts: []string{"groq.com"}},
}

// GetAPIKey returns the API key for a given base URL. An empty base URL
// means the SDK default, which is OpenAI.
func (s *Secrets) GetAPIKey(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	for _, p := range providers {
		for _, host := range p.hosts {
			if strings.Contains(baseURL, host) {
				if key := s.APIKeys[p.name]; key != "" {
					return key
				}
			}
		}
	}

	// Fall back to generic API_KEY for any OpenAI-compatible provider
	if key := s.APIKeys["generic"]; key != "" {
		return key
	}

	// If no key found, return empty (could be local server without auth)
	return ""
}
