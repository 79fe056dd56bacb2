// Package local adapts self-hosted OpenAI-wire-compatible servers (Ollama,
// vLLM, llama.cpp) to the gateway's Adapter contract. Chat/stream/embed all
// behave exactly like openaicompat, but health-checking diverges: Ollama
// does not expose /v1/models the way the rest of the OpenAI-compatible
// family does, so an Ollama-shaped base URL is health-checked against
// /api/tags instead.
package local

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/openaicompat"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

const defaultBaseURL = "http://localhost:11434/v1"

// Adapter wraps openaicompat.Adapter, overriding only HealthCheck.
type Adapter struct {
	*openaicompat.Adapter
	httpClient *http.Client
	tagsURL    string
	isOllama   bool
}

// New builds the local adapter from a provider.Config. Name is the
// configured provider name (e.g. "ollama", "vllm-local"), used together
// with BaseURL to decide whether this upstream is Ollama-shaped.
func New(cfg provider.Config) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	isOllama := strings.Contains(baseURL, "11434") || strings.Contains(strings.ToLower(cfg.Name), "ollama")

	base := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.Name,
		BaseURL:      baseURL,
		APIKey:       cfg.APIKey,
		DefaultModel: cfg.DefaultModel,
		Timeout:      cfg.Timeout,
		Models: []schema.ModelCapabilities{
			{Provider: cfg.Name, ModelID: cfg.DefaultModel, DisplayName: cfg.DefaultModel, SupportsTools: true, SupportsStreaming: true, ContextWindow: 32768},
		},
	})

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Adapter{
		Adapter:    base,
		httpClient: &http.Client{Timeout: timeout},
		tagsURL:    strings.TrimSuffix(strings.TrimSuffix(baseURL, "/v1"), "/") + "/api/tags",
		isOllama:   isOllama,
	}
}

// HealthCheck pings /api/tags for Ollama-shaped upstreams and falls back to
// the standard OpenAI-compatible /v1/models check for everything else
// (vLLM, llama.cpp, LM Studio).
func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthStatus {
	if !a.isOllama {
		return a.Adapter.HealthCheck(ctx)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.tagsURL, nil)
	if err != nil {
		return provider.HealthStatus{Status: "unhealthy", Error: err.Error()}
	}
	resp, err := a.httpClient.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return provider.HealthStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return provider.HealthStatus{Status: "unhealthy", LatencyMS: latency, Error: resp.Status}
	}
	return provider.HealthStatus{Status: "healthy", LatencyMS: latency}
}
