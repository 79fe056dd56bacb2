// Package provider defines the Adapter contract every upstream family
// implements, plus the canonical error taxonomy adapters classify their
// failures into. Adapters own translation only — retries, circuit
// breaking, and fallback all live one layer up, in the router package.
package provider

import (
	"context"
	"time"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

// HealthStatus is the result of Adapter.HealthCheck.
type HealthStatus struct {
	Status    string // "healthy" | "degraded" | "unhealthy"
	LatencyMS float64
	Error     string
}

// StreamFunc is invoked once per coalesced StreamFrame during ChatStream.
// Returning an error aborts the stream early (e.g. a client disconnect).
type StreamFunc func(schema.StreamFrame) error

// Adapter is the contract every upstream family (Anthropic-like,
// OpenAI-like, Google-like, xAI-like, OpenAI-compatible-local) implements.
// Implementations must not retry, gate on circuit state, or fall back —
// that is the router's job.
type Adapter interface {
	Name() string

	Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error)
	ChatStream(ctx context.Context, req schema.ChatRequest, emit StreamFunc) error
	Embed(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error)

	// GetModels returns a static, known-at-build-time capability list.
	GetModels() []schema.ModelCapabilities

	HealthCheck(ctx context.Context) HealthStatus

	// Close releases underlying connection pools. Safe to call once at
	// process shutdown.
	Close() error
}

// Config is a single upstream's configuration.
type Config struct {
	// Name is this upstream's configured identity, e.g. "anthropic" or a
	// deployment-chosen name like "ollama-gpu".
	Name string
	// Family selects which adapter implementation constructs this
	// upstream (e.g. "anthropic", "openai", "local"). Defaults to Name
	// when empty, so the common one-upstream-per-family case needs no
	// extra configuration.
	Family       string
	BaseURL      string
	APIKeyEnv    string
	APIKey       string // resolved from APIKeyEnv at load time; may be empty for local upstreams
	DefaultModel string
	// Priority orders fallback attempts ascending: LOCAL(0) < PRIMARY(1) <
	// SECONDARY(2) < TERTIARY(3) < FALLBACK(4).
	Priority int
	Timeout  time.Duration
	Enabled  bool
}

// IsAvailable reports whether this provider can be constructed: enabled,
// and credentialed whenever it declares an API-key env var. Local
// providers (no APIKeyEnv) are always available once enabled.
func (c Config) IsAvailable() bool {
	if !c.Enabled {
		return false
	}
	if c.APIKeyEnv == "" {
		return true
	}
	return c.APIKey != ""
}

// Priority bands ordering the fallback walk: local inference first, then
// cloud providers from primary down to last resort.
const (
	PriorityLocal     = 0
	PriorityPrimary   = 1
	PrioritySecondary = 2
	PriorityTertiary  = 3
	PriorityFallback  = 4
)
