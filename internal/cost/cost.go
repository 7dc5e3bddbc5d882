// Package cost estimates request sizes for partitioning and prices token usage.
package cost

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/lamim/vellumbatch/pkg/models"
)

// Encoding is the tokenizer the batch service uses to count enqueued tokens
const Encoding = "o200k_base"

// tokenizer loads the encoding once. The BPE ranks are fetched on first use
// and cached under TIKTOKEN_CACHE_DIR.
var tokenizer = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding(Encoding)
})

// TokenizerError reports why exact token counting is unavailable, or nil
func TokenizerError() error {
	_, err := tokenizer()
	return err
}

// CountTokens returns the o200k_base token count of text, or the four runes
// per token estimate when the encoding cannot be loaded
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tokenizer()
	if err != nil {
		return EstimateTextTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateTextTokens approximates the token count of text at four runes per token
func EstimateTextTokens(text string) int {
	runes := len([]rune(strings.TrimSpace(text)))
	if runes == 0 {
		return 0
	}
	return int(math.Ceil(float64(runes) / 4.0))
}

// chatBody is the subset of a chat-completions request that affects its cost
type chatBody struct {
	Messages            []chatMessage `json:"messages"`
	MaxTokens           *int          `json:"max_tokens"`
	MaxCompletionTokens *int          `json:"max_completion_tokens"`
}

type chatMessage struct {
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// EstimateRequest returns the cost of a request body: message content tokens
// plus the reserved completion budget (max_tokens, falling back to
// max_completion_tokens). Bodies without messages are estimated from their
// raw text at four runes per token.
func EstimateRequest(body json.RawMessage) (int, error) {
	var chat chatBody
	if err := json.Unmarshal(body, &chat); err != nil {
		return 0, fmt.Errorf("failed to parse request body: %w", err)
	}

	if len(chat.Messages) == 0 {
		return EstimateTextTokens(string(body)), nil
	}

	total := 0
	for i, msg := range chat.Messages {
		text, err := messageText(msg.Content)
		if err != nil {
			return 0, fmt.Errorf("message %d: %w", i, err)
		}
		total += CountTokens(text)
	}

	switch {
	case chat.MaxTokens != nil:
		total += *chat.MaxTokens
	case chat.MaxCompletionTokens != nil:
		total += *chat.MaxCompletionTokens
	}
	return total, nil
}

// messageText flattens string content or an array of text parts
func messageText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("unsupported message content: %w", err)
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// Pricing holds USD prices per million tokens
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million" toml:"output_per_million"`
}

// Breakdown is the priced form of a usage record
type Breakdown struct {
	InputUSD  float64 `json:"input_usd"`
	OutputUSD float64 `json:"output_usd"`
	TotalUSD  float64 `json:"total_usd"`
}

// Price converts token usage to USD
func (p Pricing) Price(u models.Usage) Breakdown {
	in := float64(u.PromptTokens) * p.InputPerMillion / 1_000_000.0
	out := float64(u.CompletionTokens) * p.OutputPerMillion / 1_000_000.0
	return Breakdown{
		InputUSD:  in,
		OutputUSD: out,
		TotalUSD:  in + out,
	}
}

// IsZero reports whether no prices are configured
func (p Pricing) IsZero() bool {
	return p.InputPerMillion == 0 && p.OutputPerMillion == 0
}
