package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode"

	"github.com/lamim/vellumbatch/internal/writer"
)

const (
	// MaxEndpointLength is the maximum allowed length for the endpoint path
	MaxEndpointLength = 200

	// MaxPathLength is the maximum allowed length for configured file paths
	MaxPathLength = 4096
)

// ValidateInputs performs additional security validation on user-controllable fields.
// Run IDs become directory names, so they are held to the same rules as session paths.
func (c *Config) ValidateInputs() error {
	if err := writer.ValidateRunID(c.Batch.RunID); err != nil {
		return fmt.Errorf("invalid batch.run_id: %w", err)
	}

	if err := validateEndpoint(c.Batch.Endpoint); err != nil {
		return fmt.Errorf("invalid batch.endpoint: %w", err)
	}

	for _, p := range []struct {
		name  string
		value string
	}{
		{"batch.storage_dir", c.Batch.StorageDir},
		{"batch.response_schema", c.Batch.ResponseSchema},
	} {
		if err := validatePath(p.value); err != nil {
			return fmt.Errorf("invalid %s: %w", p.name, err)
		}
	}

	if c.OpenAI.BaseURL != "" {
		if err := validateBaseURL(c.OpenAI.BaseURL); err != nil {
			return fmt.Errorf("invalid openai.base_url: %w", err)
		}
	}

	if c.Metrics.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddr); err != nil {
			return fmt.Errorf("invalid metrics.listen_addr: %w", err)
		}
	}

	return nil
}

// validateEndpoint checks that the endpoint is an absolute API path
func validateEndpoint(endpoint string) error {
	if len(endpoint) > MaxEndpointLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)",
			MaxEndpointLength, len(endpoint))
	}
	if !strings.HasPrefix(endpoint, "/") {
		return fmt.Errorf("must start with / (got %q)", endpoint)
	}
	if strings.ContainsAny(endpoint, "?# ") || containsControlChars(endpoint) {
		return fmt.Errorf("must be a plain path (got %q)", endpoint)
	}
	return nil
}

func validatePath(path string) error {
	if len(path) > MaxPathLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)", MaxPathLength, len(path))
	}
	if containsControlChars(path) {
		return fmt.Errorf("contains invalid control characters")
	}
	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	// Parse URL
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme (got %s)", u.Scheme)
	}

	// Check host is present
	if u.Host == "" {
		return fmt.Errorf("must have a host")
	}

	return nil
}

// containsControlChars checks if a string contains control characters
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
