package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatClient speaks the OpenAI-compatible chat completions protocol used by
// OpenAI, OpenRouter, Mistral and Groq.
type ChatClient struct {
	provider   Provider
	model      string
	apiKey     string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
}

// NewChatClient builds an OpenAI-compatible adapter.
func NewChatClient(cfg Config) *ChatClient {
	return &ChatClient{
		provider:   cfg.Provider,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		endpoint:   cfg.BaseURL,
		maxTokens:  cfg.MaxTokens,
		httpClient: cfg.HTTPClient,
	}
}

func (c *ChatClient) Provider() Provider { return c.provider }

func (c *ChatClient) Model() string { return c.model }

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		Text         string      `json:"text"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ChatClient) SendMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: c.maxTokens,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderOpenRouter {
		req.Header.Set("X-Title", "bookbot")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError(c.provider, c.model, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError(c.provider, c.model, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError(c.provider, c.model, resp.StatusCode, string(body))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", malformedError(c.provider, c.model, "decode response: "+err.Error())
	}
	if completion.Error != nil {
		return "", &Error{Kind: KindProvider, Provider: c.provider, Model: c.model, Message: completion.Error.Message}
	}
	for _, choice := range completion.Choices {
		for _, content := range []string{choice.Message.Content, choice.Delta.Content, choice.Text} {
			if strings.TrimSpace(content) != "" {
				return content, nil
			}
		}
	}
	return "", malformedError(c.provider, c.model, "empty content: "+summarizePayloadSnippet(string(body)))
}
