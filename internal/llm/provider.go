package llm

import (
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// Provider identifies an LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// ParseModelString parses a model string into provider and model name.
//
// Supported formats:
//
//	"ollama/llama3.2"            → (ollama, "llama3.2")
//	"openai/gpt-4o"              → (openai, "gpt-4o")
//	"claude-3-5-sonnet-20241022" → (anthropic, "claude-3-5-sonnet-20241022")
//	"gpt-4o"                     → (openai, "gpt-4o")
//	"llama3.2"                   → (ollama, "llama3.2") if OLLAMA_HOST set, else anthropic
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		name := model[i+1:]
		switch prefix {
		case "ollama":
			return ProviderOllama, name
		case "openai":
			return ProviderOpenAI, name
		case "anthropic":
			return ProviderAnthropic, name
		}
	}

	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, "claude") {
		return ProviderAnthropic, model
	}
	if strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") {
		return ProviderOpenAI, model
	}

	if os.Getenv("OLLAMA_HOST") != "" {
		return ProviderOllama, model
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI, model
	}
	return ProviderAnthropic, model
}

// NewClientForModel creates the client for model and returns it with the
// provider-local model name. apiKey and baseURL override the provider's
// environment variables:
//
//	ANTHROPIC_API_KEY  Anthropic API key
//	OPENAI_API_KEY     OpenAI API key
//	OPENAI_BASE_URL    custom OpenAI-compatible base URL
//	OLLAMA_HOST        Ollama server address
//
// A hosted provider without a key yields a client whose Chat fails with
// ErrNotConfigured, so callers that never generate still work.
func NewClientForModel(model, apiKey, baseURL string) (Client, string) {
	if model == "" {
		model = DefaultModel
	}
	provider, name := ParseModelString(model)

	switch provider {
	case ProviderOllama:
		if baseURL == "" {
			if host := os.Getenv("OLLAMA_HOST"); host != "" {
				baseURL = strings.TrimSuffix(host, "/") + "/v1"
			}
		}
		return NewOllamaClient(baseURL), name

	case ProviderOpenAI:
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		if apiKey == "" && baseURL == "" {
			return unconfiguredClient{provider: provider}, name
		}
		return NewOpenAIClient(apiKey, baseURL), name

	default:
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return unconfiguredClient{provider: provider}, name
		}
		if baseURL != "" {
			return NewAnthropicClient(apiKey, option.WithBaseURL(baseURL)), name
		}
		return NewAnthropicClient(apiKey), name
	}
}
