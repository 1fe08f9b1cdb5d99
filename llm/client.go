package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout         = 2 * time.Minute
	defaultThinkingTimeout = 10 * time.Minute
	defaultMaxTokens       = 8192
)

// Client sends one prompt pair to a provider and returns the generated text.
// Implementations make a single attempt per call.
type Client interface {
	SendMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Provider() Provider
	Model() string
}

// Config selects and configures a provider adapter.
type Config struct {
	Provider        Provider
	Model           string
	APIKey          string
	BaseURL         string
	MaxTokens       int
	Timeout         time.Duration
	ThinkingTimeout time.Duration
	HTTPClient      *http.Client
}

// New builds the adapter for cfg.Provider.
func New(cfg Config) (Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if !KnownProvider(cfg.Provider) {
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCredential, cfg.Provider)
	}
	if !ValidModel(cfg.Provider, cfg.Model) {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.timeout()}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL(cfg.Provider)
	}

	switch cfg.Provider {
	case ProviderAnthropic:
		return NewClaudeClient(cfg), nil
	case ProviderGoogle:
		return NewGeminiClient(cfg), nil
	default:
		return NewChatClient(cfg), nil
	}
}

func (cfg Config) timeout() time.Duration {
	if IsThinkingModel(cfg.Provider, cfg.Model) {
		if cfg.ThinkingTimeout > 0 {
			return cfg.ThinkingTimeout
		}
		return defaultThinkingTimeout
	}
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultTimeout
}
