// Package openai adapts cloud OpenAI to the gateway's Adapter contract. It
// is a thin wrapper over openaicompat, since OpenAI's own API is the wire
// format that package already speaks.
package openai

import (
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/openaicompat"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

const defaultModel = "gpt-4.1"

// New builds the OpenAI adapter from a provider.Config.
func New(cfg provider.Config) *openaicompat.Adapter {
	model := cfg.DefaultModel
	if model == "" {
		model = defaultModel
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: "openai",
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		DefaultModel: model,
		Timeout:      cfg.Timeout,
		Models: []schema.ModelCapabilities{
			{Provider: "openai", ModelID: "gpt-4.1", DisplayName: "GPT-4.1", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, ContextWindow: 1047576},
			{Provider: "openai", ModelID: "gpt-4.1-mini", DisplayName: "GPT-4.1 Mini", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, ContextWindow: 1047576},
			{Provider: "openai", ModelID: "o3", DisplayName: "o3", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, SupportsThinking: true, ContextWindow: 200000},
		},
	})
}
