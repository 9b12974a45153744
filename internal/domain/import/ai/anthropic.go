package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// Config holds provider settings for the Anthropic classifier.
type Config struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
}

// AnthropicClassifier classifies row batches with the Anthropic Messages API.
type AnthropicClassifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewAnthropicClassifier builds a rate-limited Anthropic-backed classifier.
func NewAnthropicClassifier(cfg Config, logger *slog.Logger) (*AnthropicClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5-20250929"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}

	return &AnthropicClassifier{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		limiter:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
		logger:    logger,
	}, nil
}

// ClassifyBatch sends one batch to the model and parses its JSON reply. The
// reply must contain exactly one result per request, in order.
func (c *AnthropicClassifier) ClassifyBatch(ctx context.Context, batch []Request) ([]Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	prompt, err := buildPrompt(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	results, err := parseResults(text.String())
	if err != nil {
		return nil, err
	}
	if len(results) != len(batch) {
		return nil, fmt.Errorf("model returned %d results for %d rows", len(results), len(batch))
	}

	for i := range results {
		if results[i].Confidence > ConfidenceCeiling {
			results[i].Confidence = ConfidenceCeiling
		}
		if results[i].Confidence < 0 {
			results[i].Confidence = 0
		}
	}

	return results, nil
}

const promptHeader = `You classify Indian bank statement transactions. For each
transaction below, assign: "category" (one of: Food, Groceries, Transport,
Travel, Entertainment, Shopping, Utilities, Health, Rent, Investments, Income,
Education, Other), "platform" (the merchant or service name), "payment_method"
(one of: UPI, Bank Transfer, Cash, Card, or empty when unknown), "tags" (zero
or more short lowercase labels), and "confidence" between 0 and 1.

Respond with ONLY a JSON array, one object per transaction, in input order.

Transactions:
`

func buildPrompt(batch []Request) (string, error) {
	payload, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return "", err
	}
	return promptHeader + string(payload), nil
}

// parseResults extracts the JSON array from the reply; models sometimes wrap
// it in markdown fences or prose.
func parseResults(text string) ([]Result, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in model response")
	}

	var results []Result
	if err := json.Unmarshal([]byte(text[start:end+1]), &results); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return results, nil
}
