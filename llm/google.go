package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/research/retry"
	"google.golang.org/genai"
)

// Gemini is a completer backed by the Google Gemini API
type Gemini struct {
	client     *genai.Client
	model      string
	maxRetries int
	baseWait   time.Duration
}

// NewGoogle returns a Gemini completer for the configuration
func NewGoogle(ctx context.Context, cfg Config) (*Gemini, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create google genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = Google.DefaultModel()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = retry.DefaultMaxRetries
	}
	return &Gemini{
		client:     client,
		model:      model,
		maxRetries: maxRetries,
		baseWait:   retry.DefaultBaseWait,
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt Prompt) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if prompt.System != "" {
		config.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if prompt.JSON {
		config.ResponseMIMEType = "application/json"
	}
	var text string
	err := retry.Do(ctx, func() error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt.User), config)
		if err != nil {
			return classifyAPIError(err)
		}
		text = resp.Text()
		return nil
	}, retry.WithMaxRetries(g.maxRetries), retry.WithBaseWait(g.baseWait))
	if err != nil {
		return "", fmt.Errorf("error generating content: %w", err)
	}
	return text, nil
}

// classifyAPIError decides retries from the API status code when there is one
func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if retry.ShouldRetry(apiErr.Code) {
		return retry.NewRecoverableError(err)
	}
	return retry.NewNonRecoverableError(err)
}
