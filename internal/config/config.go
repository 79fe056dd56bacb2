// Package config loads the gateway's runtime configuration from
// ~/.aratta/config.yaml (or $ARATTA_HOME/config.yaml), layered over
// built-in defaults and overridden by environment variables: defaults,
// then file, then env, with env winning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/resolver"
)

// Config is the fully-resolved gateway configuration.
type Config struct {
	Host string
	Port int

	Providers      map[string]provider.Config // cloud upstreams
	LocalProviders map[string]provider.Config // self-hosted upstreams

	ModelAliases map[string]string

	DefaultProvider string
	EnableFallback  bool
	PreferLocal     bool

	CircuitBreakerEnabled   bool
	CircuitFailureThreshold int
	CircuitRecoverySeconds  int

	SelfHealingEnabled  bool
	AutoApplyFixes      bool
	AutoApplyThreshold  float64
	HealModel           string
	ErrorThreshold      int
	ErrorWindowSeconds  int
	HealCooldownSeconds int

	StreamTimeout time.Duration

	// Observability selects the emit.Emitter backend: "log" (default),
	// "otel", "null", or "buffered" (in-memory, for tests).
	Observability string
}

// defaultCloudProviders is the built-in cloud upstream table; every entry
// can be overridden or disabled from config.yaml.
func defaultCloudProviders() map[string]provider.Config {
	return map[string]provider.Config{
		"anthropic": {
			Name: "anthropic", Family: "anthropic",
			BaseURL: "https://api.anthropic.com", APIKeyEnv: "ANTHROPIC_API_KEY",
			DefaultModel: "claude-sonnet-4-5-20250929", Priority: provider.PriorityPrimary,
			Timeout: 30 * time.Second, Enabled: true,
		},
		"openai": {
			Name: "openai", Family: "openai",
			BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY",
			DefaultModel: "gpt-4.1", Priority: provider.PrioritySecondary,
			Timeout: 30 * time.Second, Enabled: true,
		},
		"google": {
			Name: "google", Family: "google",
			BaseURL: "https://generativelanguage.googleapis.com", APIKeyEnv: "GOOGLE_API_KEY",
			DefaultModel: "gemini-2.5-flash", Priority: provider.PriorityTertiary,
			Timeout: 30 * time.Second, Enabled: true,
		},
		"xai": {
			Name: "xai", Family: "xai",
			BaseURL: "https://api.x.ai/v1", APIKeyEnv: "XAI_API_KEY",
			DefaultModel: "grok-4-fast", Priority: provider.PriorityFallback,
			Timeout: 30 * time.Second, Enabled: true,
		},
	}
}

// defaultLocalProviders is the built-in self-hosted upstream table; vllm
// and llamacpp ship disabled and are opt-in.
func defaultLocalProviders() map[string]provider.Config {
	return map[string]provider.Config{
		"ollama": {
			Name: "ollama", Family: "local",
			BaseURL:      envOr("OLLAMA_URL", "http://localhost:11434") + "/v1",
			DefaultModel: "llama3.1:8b", Priority: provider.PriorityLocal,
			Timeout: 30 * time.Second, Enabled: true,
		},
		"vllm": {
			Name: "vllm", Family: "local",
			BaseURL:      envOr("VLLM_URL", "http://localhost:8000") + "/v1",
			DefaultModel: "meta-llama/Llama-3.1-8B-Instruct", Priority: provider.PriorityLocal,
			Timeout: 30 * time.Second, Enabled: false,
		},
		"llamacpp": {
			Name: "llamacpp", Family: "local",
			BaseURL:      envOr("LLAMACPP_URL", "http://localhost:8080") + "/v1",
			DefaultModel: "default", Priority: provider.PriorityLocal,
			Timeout: 30 * time.Second, Enabled: false,
		},
	}
}

// defaultModelAliases is the built-in alias table; config.yaml entries
// extend or override it.
func defaultModelAliases() map[string]string {
	return map[string]string{
		"fast":      "google:gemini-2.5-flash",
		"reason":    "anthropic:claude-opus-4-5-20251101",
		"code":      "anthropic:claude-sonnet-4-5-20250929",
		"cheap":     "google:gemini-2.5-flash-lite",
		"local":     "ollama:llama3.1:8b",
		"sovereign": "ollama:llama3.1:8b",

		"opus":   "anthropic:claude-opus-4-5-20251101",
		"sonnet": "anthropic:claude-sonnet-4-5-20250929",
		"haiku":  "anthropic:claude-haiku-4-5-20251001",

		"gpt":      "openai:gpt-4.1",
		"gpt-mini": "openai:gpt-4.1-mini",
		"o3":       "openai:o3",

		"gemini":     "google:gemini-2.5-flash",
		"gemini-pro": "google:gemini-2.5-pro",

		"grok": "xai:grok-4-fast",

		"embed":       "openai:text-embedding-3-large",
		"embed-small": "openai:text-embedding-3-small",
	}
}

// Default builds a Config from built-in defaults only, with no file or
// environment overlay applied.
func Default() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8084,
		Providers:      defaultCloudProviders(),
		LocalProviders: defaultLocalProviders(),
		ModelAliases:   defaultModelAliases(),

		DefaultProvider: "ollama",
		EnableFallback:  true,
		PreferLocal:     true,

		CircuitBreakerEnabled:   true,
		CircuitFailureThreshold: 5,
		CircuitRecoverySeconds:  60,

		SelfHealingEnabled:  true,
		AutoApplyFixes:      false,
		AutoApplyThreshold:  0.85,
		HealModel:           "local",
		ErrorThreshold:      3,
		ErrorWindowSeconds:  300,
		HealCooldownSeconds: 600,

		StreamTimeout: 60 * time.Second,

		Observability: "log",
	}
}

// fileOverlay is the shape config.yaml is parsed into; only fields
// actually present in the file override the corresponding Config field,
// which is why everything here is a pointer.
type fileOverlay struct {
	Server *struct {
		Host *string `yaml:"host"`
		Port *int    `yaml:"port"`
	} `yaml:"server"`

	Providers map[string]providerOverlay `yaml:"providers"`
	Local     map[string]providerOverlay `yaml:"local"`

	Aliases map[string]string `yaml:"aliases"`

	Observability *string `yaml:"observability"`

	Behaviour *struct {
		DefaultProvider *string `yaml:"default_provider"`
		PreferLocal     *bool   `yaml:"prefer_local"`
		EnableFallback  *bool   `yaml:"enable_fallback"`
	} `yaml:"behaviour"`

	Healing *struct {
		Enabled            *bool    `yaml:"enabled"`
		AutoApply          *bool    `yaml:"auto_apply"`
		AutoApplyThreshold *float64 `yaml:"auto_apply_threshold"`
		HealModel          *string  `yaml:"heal_model"`
		ErrorThreshold     *int     `yaml:"error_threshold"`
		CooldownSeconds    *int     `yaml:"cooldown_seconds"`
	} `yaml:"healing"`
}

type providerOverlay struct {
	BaseURL      *string `yaml:"base_url"`
	DefaultModel *string `yaml:"default_model"`
	Enabled      *bool   `yaml:"enabled"`
	Timeout      *int    `yaml:"timeout"`
	Priority     *int    `yaml:"priority"`
}

func applyOverlay(cfg *Config, data fileOverlay) {
	if data.Server != nil {
		if data.Server.Host != nil {
			cfg.Host = *data.Server.Host
		}
		if data.Server.Port != nil {
			cfg.Port = *data.Server.Port
		}
	}

	applyProviderOverlays(cfg.Providers, data.Providers)
	applyProviderOverlays(cfg.LocalProviders, data.Local)

	for alias, target := range data.Aliases {
		cfg.ModelAliases[alias] = target
	}

	if data.Observability != nil {
		cfg.Observability = *data.Observability
	}

	if data.Behaviour != nil {
		if data.Behaviour.DefaultProvider != nil {
			cfg.DefaultProvider = *data.Behaviour.DefaultProvider
		}
		if data.Behaviour.PreferLocal != nil {
			cfg.PreferLocal = *data.Behaviour.PreferLocal
		}
		if data.Behaviour.EnableFallback != nil {
			cfg.EnableFallback = *data.Behaviour.EnableFallback
		}
	}

	if data.Healing != nil {
		if data.Healing.Enabled != nil {
			cfg.SelfHealingEnabled = *data.Healing.Enabled
		}
		if data.Healing.AutoApply != nil {
			cfg.AutoApplyFixes = *data.Healing.AutoApply
		}
		if data.Healing.AutoApplyThreshold != nil {
			cfg.AutoApplyThreshold = *data.Healing.AutoApplyThreshold
		}
		if data.Healing.HealModel != nil {
			cfg.HealModel = *data.Healing.HealModel
		}
		if data.Healing.ErrorThreshold != nil {
			cfg.ErrorThreshold = *data.Healing.ErrorThreshold
		}
		if data.Healing.CooldownSeconds != nil {
			cfg.HealCooldownSeconds = *data.Healing.CooldownSeconds
		}
	}
}

func applyProviderOverlays(target map[string]provider.Config, overlays map[string]providerOverlay) {
	for name, overlay := range overlays {
		cfg, ok := target[name]
		if !ok {
			continue
		}
		if overlay.BaseURL != nil {
			cfg.BaseURL = *overlay.BaseURL
		}
		if overlay.DefaultModel != nil {
			cfg.DefaultModel = *overlay.DefaultModel
		}
		if overlay.Enabled != nil {
			cfg.Enabled = *overlay.Enabled
		}
		if overlay.Timeout != nil {
			cfg.Timeout = time.Duration(*overlay.Timeout) * time.Second
		}
		if overlay.Priority != nil {
			cfg.Priority = *overlay.Priority
		}
		target[name] = cfg
	}
}

// Home returns $ARATTA_HOME, defaulting to ~/.aratta.
func Home() string {
	if h := os.Getenv("ARATTA_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aratta"
	}
	return filepath.Join(home, ".aratta")
}

// Load builds a Config from defaults, then config.yaml if present, then
// environment variables, with environment variables winning over
// everything.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(Home(), "config.yaml")
	}
	if data, err := os.ReadFile(path); err == nil {
		var overlay fileOverlay
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		applyOverlay(&cfg, overlay)
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if h := os.Getenv("ARATTA_HOST"); h != "" {
		cfg.Host = h
	}
	if p := os.Getenv("ARATTA_PORT"); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err == nil {
			cfg.Port = port
		}
	}

	resolveAPIKeys(cfg.Providers)
	resolveAPIKeys(cfg.LocalProviders)
	applyPreferLocal(&cfg)

	return cfg, nil
}

// applyPreferLocal honors the prefer_local behavior flag during
// resolution of unqualified inputs only: with prefer_local off, a local
// default provider is swapped for the best-priority cloud provider.
// Explicit "provider:model" requests and the fallback walk's priority
// numbers are unaffected.
func applyPreferLocal(cfg *Config) {
	if cfg.PreferLocal {
		return
	}
	if _, isLocal := cfg.LocalProviders[cfg.DefaultProvider]; !isLocal {
		return
	}
	best := ""
	bestPriority := int(^uint(0) >> 1)
	for name, p := range cfg.Providers {
		if p.Enabled && p.Priority < bestPriority {
			best, bestPriority = name, p.Priority
		}
	}
	if best != "" {
		cfg.DefaultProvider = best
	}
}

func resolveAPIKeys(providers map[string]provider.Config) {
	for name, cfg := range providers {
		if cfg.APIKeyEnv != "" {
			cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
		}
		providers[name] = cfg
	}
}

// AllProviders merges LocalProviders and Providers into a single map
// keyed by configured name.
func (c Config) AllProviders() map[string]provider.Config {
	out := make(map[string]provider.Config, len(c.Providers)+len(c.LocalProviders))
	for k, v := range c.LocalProviders {
		out[k] = v
	}
	for k, v := range c.Providers {
		out[k] = v
	}
	return out
}

// ResolverTable builds a resolver.Table from this Config's alias and
// provider data, replacing resolver.DefaultTable() once a Config has
// been loaded.
func (c Config) ResolverTable() resolver.Table {
	aliases := make(map[string]resolver.Resolved, len(c.ModelAliases))
	for alias, target := range c.ModelAliases {
		r := resolver.DefaultTable().Resolve(target)
		// target is always an explicit "provider:model" string in the
		// alias table, so resolving it through the default table's
		// explicit-syntax step is equivalent to a direct colon split,
		// without duplicating that parsing logic here.
		aliases[alias] = resolver.Resolved{Provider: r.Provider, Model: r.Model}
	}

	known := make(map[string]bool, len(c.Providers)+len(c.LocalProviders))
	for name := range c.Providers {
		known[name] = true
	}
	for name := range c.LocalProviders {
		known[name] = true
	}

	defaults := resolver.DefaultTable()
	return resolver.Table{
		Aliases:         aliases,
		KnownProviders:  known,
		Substrings:      defaults.Substrings,
		InferenceOrder:  defaults.InferenceOrder,
		DefaultProvider: c.DefaultProvider,
		DefaultModel:    c.AllProviders()[c.DefaultProvider].DefaultModel,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
