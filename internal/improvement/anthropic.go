package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/skillpulse/skillpulse/internal/registry"
)

// AnthropicConfig controls the Claude-backed proposal generator.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// AnthropicGenerator produces prompt proposals with the Anthropic Messages
// API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicGenerator constructs a generator from config.
func NewAnthropicGenerator(cfg AnthropicConfig, logger *slog.Logger) (*AnthropicGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("improvement: anthropic api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("improvement: anthropic model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		logger:    logger.With("component", "generator"),
	}, nil
}

// GenerateProposal implements Generator.
func (g *AnthropicGenerator) GenerateProposal(ctx context.Context, entry *registry.Entry, req *registry.Request) (registry.Proposal, error) {
	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{{
			Text: generatorSystemPrompt,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildGenerationPrompt(entry, req))),
		},
	})
	if err != nil {
		return registry.Proposal{}, fmt.Errorf("improvement: anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if t, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(t.Text)
		}
	}
	g.logger.Debug("proposal response received",
		"skill", entry.ID, "request", req.ID,
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens)

	return parseProposal(text.String())
}
