// Package llm maps a caller-supplied provider, model and API key to a chat model.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/mistral"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names a supported model backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderMistral    Provider = "mistral"
	ProviderOpenRouter Provider = "openrouter"

	// DefaultProvider is used for empty or unknown provider names.
	DefaultProvider = ProviderOpenAI

	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

var defaultModels = map[Provider]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderAnthropic:  "claude-3-5-sonnet-latest",
	ProviderGoogle:     "gemini-1.5-flash",
	ProviderMistral:    "mistral-large-latest",
	ProviderOpenRouter: "openai/gpt-4o-mini",
}

// ErrMissingAPIKey is returned when no API key accompanies a model request.
var ErrMissingAPIKey = errors.New("missing API key")

// Config selects a model. There is no environment fallback for APIKey.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float64
}

// ParseProvider maps a provider name onto the closed provider set.
func ParseProvider(name string) Provider {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderMistral, ProviderOpenRouter:
		return p
	case "gemini", "googleai":
		return ProviderGoogle
	default:
		return DefaultProvider
	}
}

// ModelName returns the configured model or the provider default.
func (c Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return defaultModels[ParseProvider(c.Provider)]
}

// ChatModel is a provider client with per-config call defaults applied.
type ChatModel struct {
	llms.Model
	Provider    Provider
	Name        string
	Temperature float64
}

var _ llms.Model = (*ChatModel)(nil)

// GenerateContent forwards to the provider with the configured temperature.
// Options passed by the caller take precedence.
func (m *ChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := append([]llms.CallOption{llms.WithTemperature(m.Temperature)}, options...)
	return m.Model.GenerateContent(ctx, messages, opts...)
}

// Call is the single prompt convenience form.
func (m *ChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// NewModel creates the chat model for cfg. It never performs a network call.
func NewModel(ctx context.Context, cfg Config) (*ChatModel, error) {
	provider := ParseProvider(cfg.Provider)
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.Wrapf(ErrMissingAPIKey, "an API key is required for provider %s", provider)
	}
	name := cfg.ModelName()

	var (
		model llms.Model
		err   error
	)
	switch provider {
	case ProviderAnthropic:
		model, err = anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(name))
	case ProviderGoogle:
		model, err = googleai.New(ctx, googleai.WithAPIKey(cfg.APIKey), googleai.WithDefaultModel(name))
	case ProviderMistral:
		model, err = mistral.New(mistral.WithAPIKey(cfg.APIKey), mistral.WithModel(name))
	case ProviderOpenRouter:
		model, err = openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(name), openai.WithBaseURL(openRouterBaseURL))
	default:
		model, err = openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(name))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s model %s", provider, name)
	}
	return &ChatModel{
		Model:       model,
		Provider:    provider,
		Name:        name,
		Temperature: cfg.Temperature,
	}, nil
}
