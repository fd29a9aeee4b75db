// Package llm adapts text-completion services to the narrow Completer
// interface used by the research stages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Prompt is a single-turn request
type Prompt struct {
	System string
	User   string
	// JSON asks the service for a JSON object response where supported
	JSON bool
}

// Completer returns the text completion for a prompt
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// CompleterFunc adapts a function to the Completer interface
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

// Provider names a completion backend
type Provider string

const (
	OpenAI     Provider = "openai"
	Groq       Provider = "groq"
	OpenRouter Provider = "openrouter"
	Ollama     Provider = "ollama"
	Google     Provider = "google"
)

var (
	ErrUnknownProvider = errors.New("unsupported model provider")
	ErrMissingAPIKey   = errors.New("api key is required")
)

// Providers returns every supported provider
func Providers() []Provider {
	return []Provider{OpenAI, Groq, OpenRouter, Ollama, Google}
}

// ParseProvider normalizes and validates a provider name
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Providers() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// DefaultModel returns the model used when none is configured
func (p Provider) DefaultModel() string {
	switch p {
	case Groq:
		return "llama-3.1-8b-instant"
	case OpenRouter:
		return "openrouter/auto"
	case Ollama:
		return "gemma3:4b"
	case Google:
		return "gemini-2.0-flash"
	default:
		return "gpt-4o-mini"
	}
}

// BaseURL returns the OpenAI-compatible endpoint for the provider, or an
// empty string for the client default
func (p Provider) BaseURL() string {
	switch p {
	case Groq:
		return "https://api.groq.com/openai/v1/"
	case OpenRouter:
		return "https://openrouter.ai/api/v1/"
	case Ollama:
		return "http://localhost:11434/v1/"
	default:
		return ""
	}
}

// RequiresKey reports whether the provider needs an API key
func (p Provider) RequiresKey() bool {
	return p != Ollama
}

// Config selects and configures a completer
type Config struct {
	Provider   Provider
	Model      string
	APIKey     string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

// Validate checks the provider and the presence of a required key
func (c Config) Validate() error {
	if _, err := ParseProvider(string(c.Provider)); err != nil {
		return err
	}
	if c.Provider.RequiresKey() && c.APIKey == "" {
		return fmt.Errorf("%w for provider %s", ErrMissingAPIKey, c.Provider)
	}
	return nil
}

// Factory builds a completer for a configuration
type Factory func(ctx context.Context, cfg Config) (Completer, error)

// New is the default Factory
func New(ctx context.Context, cfg Config) (Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = cfg.Provider.DefaultModel()
	}
	switch cfg.Provider {
	case Google:
		return NewGoogle(ctx, cfg)
	default:
		return NewChat(cfg), nil
	}
}
