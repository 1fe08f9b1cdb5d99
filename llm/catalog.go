package llm

import "strings"

// Provider names an external text generation vendor.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderMistral    Provider = "mistral"
	ProviderGroq       Provider = "groq"
	ProviderGoogle     Provider = "google"
)

// DefaultProvider is selected when settings name an unknown provider.
const DefaultProvider = ProviderAnthropic

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Thinking bool   `json:"thinking,omitempty"`
}

type providerInfo struct {
	name    string
	baseURL string
	models  []ModelInfo
}

// The first model of each provider is its default.
var catalog = map[Provider]providerInfo{
	ProviderAnthropic: {
		name: "Anthropic",
		models: []ModelInfo{
			{ID: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet"},
			{ID: "claude-3-7-sonnet-latest", Name: "Claude 3.7 Sonnet", Thinking: true},
			{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku"},
			{ID: "claude-3-opus-latest", Name: "Claude 3 Opus"},
		},
	},
	ProviderOpenAI: {
		name:    "OpenAI",
		baseURL: "https://api.openai.com/v1/chat/completions",
		models: []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o"},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini"},
			{ID: "o3-mini", Name: "o3-mini", Thinking: true},
		},
	},
	ProviderOpenRouter: {
		name:    "OpenRouter",
		baseURL: "https://openrouter.ai/api/v1/chat/completions",
		models: []ModelInfo{
			{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet"},
			{ID: "deepseek/deepseek-r1", Name: "DeepSeek R1", Thinking: true},
			{ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B"},
		},
	},
	ProviderMistral: {
		name:    "Mistral",
		baseURL: "https://api.mistral.ai/v1/chat/completions",
		models: []ModelInfo{
			{ID: "mistral-large-latest", Name: "Mistral Large"},
			{ID: "mistral-small-latest", Name: "Mistral Small"},
		},
	},
	ProviderGroq: {
		name:    "Groq",
		baseURL: "https://api.groq.com/openai/v1/chat/completions",
		models: []ModelInfo{
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B"},
			{ID: "deepseek-r1-distill-llama-70b", Name: "DeepSeek R1 Distill", Thinking: true},
		},
	},
	ProviderGoogle: {
		name:    "Google",
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		models: []ModelInfo{
			{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
			{ID: "gemini-2.0-flash-thinking-exp", Name: "Gemini 2.0 Flash Thinking", Thinking: true},
			{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro"},
		},
	},
}

// Providers lists the known providers in a stable order.
func Providers() []Provider {
	return []Provider{
		ProviderAnthropic,
		ProviderOpenAI,
		ProviderOpenRouter,
		ProviderMistral,
		ProviderGroq,
		ProviderGoogle,
	}
}

// KnownProvider reports whether p is in the catalog.
func KnownProvider(p Provider) bool {
	_, ok := catalog[p]
	return ok
}

// ProviderName returns the display name of p.
func ProviderName(p Provider) string {
	return catalog[p].name
}

// Models returns the models offered by p.
func Models(p Provider) []ModelInfo {
	models := catalog[p].models
	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out
}

// DefaultModel returns the first model of p, or "" for unknown providers.
func DefaultModel(p Provider) string {
	models := catalog[p].models
	if len(models) == 0 {
		return ""
	}
	return models[0].ID
}

// ValidModel reports whether model belongs to p.
func ValidModel(p Provider, model string) bool {
	_, ok := lookupModel(p, model)
	return ok
}

// IsThinkingModel reports whether the model needs the extended timeout.
func IsThinkingModel(p Provider, model string) bool {
	info, ok := lookupModel(p, model)
	return ok && info.Thinking
}

func lookupModel(p Provider, model string) (ModelInfo, bool) {
	model = strings.TrimSpace(model)
	for _, m := range catalog[p].models {
		if m.ID == model {
			return m, true
		}
	}
	return ModelInfo{}, false
}

func defaultBaseURL(p Provider) string {
	return catalog[p].baseURL
}
