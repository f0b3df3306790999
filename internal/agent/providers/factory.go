// Package providers adapts vendor streaming APIs to agent.StreamNormalizer.
//
// Each adapter is selected by a provider tag and owns its wire mapping:
//
//	anthropic                      Messages API (anthropic-sdk-go)
//	openai, xai, zai, ollama       Chat Completions (go-openai)
//	nextain                        Chat Completions through the lab proxy
//	gemini                         Gemini API (genai)
//
// Adapters never retry; a vendor failure ends the stream with an error chunk
// carrying *agent.ProviderError.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nextain/naia-agent/internal/agent"
	"github.com/nextain/naia-agent/internal/config"
	"github.com/nextain/naia-agent/internal/protocol"
)

// ErrUnknownProvider is returned for an unsupported provider tag.
var ErrUnknownProvider = errors.New("unknown provider")

// Endpoints holds per-provider overrides from the config file.
type Endpoints map[string]config.ProviderEndpoint

func (e Endpoints) resolve(provider, model, fallbackURL string) (baseURL, resolvedModel string) {
	ep := e[provider]
	baseURL = fallbackURL
	if ep.BaseURL != "" {
		baseURL = ep.BaseURL
	}
	resolvedModel = model
	if resolvedModel == "" {
		resolvedModel = ep.DefaultModel
	}
	return baseURL, resolvedModel
}

// New builds the normalizer named by cfg.Provider.
func New(ctx context.Context, cfg protocol.ProviderConfig, endpoints Endpoints) (agent.StreamNormalizer, error) {
	switch cfg.Provider {
	case "anthropic":
		baseURL, model := endpoints.resolve(cfg.Provider, cfg.Model, "")
		return NewAnthropic(AnthropicConfig{APIKey: cfg.APIKey, Model: model, BaseURL: baseURL})

	case "gemini":
		baseURL, model := endpoints.resolve(cfg.Provider, cfg.Model, "")
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: model, BaseURL: baseURL})

	case "openai":
		baseURL, model := endpoints.resolve(cfg.Provider, cfg.Model, "")
		return NewOpenAICompat(OpenAICompatConfig{Name: "openai", APIKey: cfg.APIKey, Model: model, BaseURL: baseURL})

	case "xai", "zai", "ollama":
		fallback := map[string]string{"xai": XAIBaseURL, "zai": ZAIBaseURL, "ollama": OllamaBaseURL}[cfg.Provider]
		baseURL, model := endpoints.resolve(cfg.Provider, cfg.Model, fallback)
		key := cfg.APIKey
		if cfg.Provider == "ollama" && key == "" {
			key = "ollama"
		}
		return NewOpenAICompat(OpenAICompatConfig{
			Name:          cfg.Provider,
			APIKey:        key,
			Model:         model,
			BaseURL:       baseURL,
			SendMaxTokens: true,
		})

	case "nextain":
		if cfg.LabKey == "" {
			return nil, errors.New("nextain: labKey is required")
		}
		baseURL, model := endpoints.resolve(cfg.Provider, cfg.Model, NextainBaseURL)
		header := http.Header{}
		header.Set("X-AnyLLM-Key", "Bearer "+cfg.LabKey)
		return NewOpenAICompat(OpenAICompatConfig{
			Name:        "nextain",
			Model:       model,
			BaseURL:     baseURL,
			Header:      header,
			ModelMapper: LabModel,
		})
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
}
