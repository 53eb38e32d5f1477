package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOllamaBaseURL is the OpenAI-compatible endpoint of a local Ollama server.
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// OpenAIClient implements Client against the OpenAI chat completions API or
// any compatible server (Ollama, vLLM, LiteLLM).
type OpenAIClient struct {
	client *openai.Client
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*openai.ClientConfig)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) { c.HTTPClient = hc }
}

// NewOpenAIClient creates a client for apiKey. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// NewOllamaClient creates a client for an Ollama server at baseURL
// (DefaultOllamaBaseURL when empty). Ollama needs no API key.
func NewOllamaClient(baseURL string, opts ...OpenAIOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return NewOpenAIClient("ollama", baseURL, opts...)
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	oreq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		oreq.Temperature = float32(*req.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat: no choices in response")
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func mapOpenAIFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return StopEndTurn
	case openai.FinishReasonLength:
		return StopMaxTokens
	default:
		return StopReason(reason)
	}
}
