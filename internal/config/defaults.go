package config

// Documented fallbacks for optional settings
const (
	DefaultStorageDir          = "output/batches"
	DefaultEndpoint            = "/v1/chat/completions"
	DefaultPollIntervalSeconds = 60
	DefaultStoreBackend        = "file"
	DefaultCompletionWindow    = "24h"
	DefaultTimeoutSeconds      = 300
	DefaultMaxRetries          = 2
	DefaultRateLimitPerMinute  = 60
	DefaultRepairContent       = true
)

// GetExampleConfig returns a commented configuration file covering every setting
func GetExampleConfig() string {
	return `# vellumbatch configuration

[batch]
# Reusing a run ID resumes the run: batches already submitted are not resubmitted.
run_id = "my-run"
storage_dir = "output/batches"
endpoint = "/v1/chat/completions"

# Ceilings per batch; 0 or unset means unbounded.
# When a batch is closed by the cost ceiling, the run waits for every
# outstanding job to finish before submitting the next batch.
cost_ceiling = 2000000
count_ceiling = 50000

poll_interval_seconds = 60
store_backend = "file"        # "file" or "sqlite"
completion_window = "24h"

# Repair JSON documents cut off by the output-length cap (default: true).
# Set to false to keep the raw response text only.
repair_content = true
# response_schema = "schema.json"

[openai]
# base_url = "https://api.openai.com/v1"
timeout_seconds = 300
max_retries = 2               # -1 disables SDK retries
rate_limit_per_minute = 60

[pricing]
# USD per million tokens, used for the cost summary
input_per_million = 0.075
output_per_million = 0.30

[metrics]
# listen_addr = ":9090"
`
}
