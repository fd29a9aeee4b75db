package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Chat is a completer for OpenAI and OpenAI-compatible chat completion
// APIs (Groq, OpenRouter, Ollama)
type Chat struct {
	client openai.Client
	model  string
}

// NewChat returns a chat completion client for the configuration
func NewChat(cfg Config) *Chat {
	var opts []option.RequestOption
	apiKey := cfg.APIKey
	if apiKey == "" && cfg.Provider == Ollama {
		apiKey = "ollama"
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Provider.BaseURL()
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	return &Chat{client: openai.NewClient(opts...), model: model}
}

func (c *Chat) Complete(ctx context.Context, prompt Prompt) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if prompt.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
