package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeClient talks to the Anthropic Messages API.
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeClient builds an Anthropic adapter. Retries are left to the caller.
func NewClaudeClient(cfg Config) *ClaudeClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
	}
}

func (c *ClaudeClient) Provider() Provider { return ProviderAnthropic }

func (c *ClaudeClient) Model() string { return c.model }

func (c *ClaudeClient) SendMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	message, err := c.client.Messages.New(
		ctx,
		anthropic.MessageNewParams{
			Model:     anthropic.F(anthropic.Model(c.model)),
			MaxTokens: anthropic.F(c.maxTokens),
			System: anthropic.F([]anthropic.TextBlockParam{
				anthropic.NewTextBlock(systemPrompt),
			}),
			Messages: anthropic.F([]anthropic.MessageParam{
				anthropic.NewUserMessage(
					anthropic.NewTextBlock(userPrompt),
				),
			}),
		},
	)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &Error{
				Kind:       kindForStatus(apiErr.StatusCode),
				Provider:   ProviderAnthropic,
				Model:      c.model,
				StatusCode: apiErr.StatusCode,
				Err:        err,
			}
		}
		return "", transportError(ProviderAnthropic, c.model, err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		text.WriteString(block.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", malformedError(ProviderAnthropic, c.model, "empty response")
	}
	return text.String(), nil
}
