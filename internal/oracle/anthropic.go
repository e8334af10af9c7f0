package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic-backed oracle.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicOracle asks a Claude model to assess candidate causes.
type AnthropicOracle struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicOracle creates an oracle. An empty API key falls back to the
// ANTHROPIC_API_KEY environment variable read by the SDK.
func NewAnthropicOracle(cfg AnthropicConfig) *AnthropicOracle {
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	opts := make([]option.RequestOption, 0, 2)
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	// Retries are owned by Bounded.
	opts = append(opts, option.WithMaxRetries(0))
	return &AnthropicOracle{client: anthropic.NewClient(opts...), config: cfg}
}

// Assess implements Oracle.
func (o *AnthropicOracle) Assess(ctx context.Context, req Request) (Response, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return Response{}, fmt.Errorf("build prompt: %w", err)
	}

	msg, err := o.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(o.config.Model),
		MaxTokens: int64(o.config.MaxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text []string
	for i := range msg.Content {
		block := &msg.Content[i]
		if block.Type == "text" {
			text = append(text, block.Text)
		}
	}
	return ParseResponse(strings.Join(text, ""))
}
