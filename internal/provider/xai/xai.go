// Package xai adapts xAI's Grok models to the gateway's Adapter contract.
// api.x.ai exposes an OpenAI-wire-compatible /v1/chat/completions endpoint,
// so this is a thin wrapper over openaicompat with xAI's own base URL and
// defaults.
package xai

import (
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/openaicompat"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

const (
	defaultBaseURL = "https://api.x.ai/v1"
	defaultModel   = "grok-4"
)

// New builds the xAI adapter from a provider.Config.
func New(cfg provider.Config) *openaicompat.Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: "xai",
		BaseURL:      baseURL,
		APIKey:       cfg.APIKey,
		DefaultModel: model,
		Timeout:      cfg.Timeout,
		Models: []schema.ModelCapabilities{
			{Provider: "xai", ModelID: "grok-4", DisplayName: "Grok 4", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, ContextWindow: 256000},
			{Provider: "xai", ModelID: "grok-4-fast", DisplayName: "Grok 4 Fast", SupportsTools: true, SupportsStreaming: true, ContextWindow: 131072},
		},
	})
}
