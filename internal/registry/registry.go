// Package registry lazily constructs and caches provider adapters.
// Construction is deferred until a provider is actually needed — most
// gateway deployments configure far more providers than any single
// request exercises — and a construction failure (e.g. a missing SDK
// dependency surfacing at dial time) degrades to the next priority band
// rather than failing the whole registry.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/anthropic"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/google"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/local"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/openai"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider/xai"
)

// Factory builds an Adapter from its Config. Each known provider family
// registers one.
type Factory func(provider.Config) provider.Adapter

// defaultFactories wires every family this binary ships with. A
// deployment with custom provider families can extend this via
// Registry.RegisterFactory before first use.
func defaultFactories() map[string]Factory {
	return map[string]Factory{
		"anthropic": func(cfg provider.Config) provider.Adapter { return anthropic.New(cfg) },
		"openai":    func(cfg provider.Config) provider.Adapter { return openai.New(cfg) },
		"google":    func(cfg provider.Config) provider.Adapter { return google.New(cfg) },
		"xai":       func(cfg provider.Config) provider.Adapter { return xai.New(cfg) },
		"local":     func(cfg provider.Config) provider.Adapter { return local.New(cfg) },
		"ollama":    func(cfg provider.Config) provider.Adapter { return local.New(cfg) },
	}
}

// Registry is the lazy cache of constructed adapters, guarded by a single
// mutex held across lookup and construction, keyed by configured provider
// name (not family — a deployment
// may configure two distinct "local" upstreams under different names).
type Registry struct {
	mu        sync.Mutex
	configs   map[string]provider.Config
	factories map[string]Factory
	adapters  map[string]provider.Adapter
	// buildErrs remembers a construction failure so repeated lookups of a
	// permanently-broken provider don't retry construction on every call;
	// an operator must reconfigure (or the process must restart) to clear
	// it.
	buildErrs map[string]error
}

// New builds a Registry from a priority-ordered provider configuration
// map, keyed by configured provider name.
func New(configs map[string]provider.Config) *Registry {
	return &Registry{
		configs:   configs,
		factories: defaultFactories(),
		adapters:  make(map[string]provider.Adapter),
		buildErrs: make(map[string]error),
	}
}

// RegisterFactory adds or overrides the constructor for a provider
// family name (e.g. to plug in a mock for tests, or a vendor this binary
// doesn't ship with by default).
func (r *Registry) RegisterFactory(family string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = f
}

// Get returns the constructed adapter for name, building it on first use.
// The provider family key is cfg.Family (cfg.Name when empty) and must
// match a registered factory; most configurations use the same string for both name and
// family, but distinct names let one family be configured more than
// once (e.g. "ollama-gpu" and "ollama-cpu" both backed by family "local").
func (r *Registry) Get(name string) (provider.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	if err, ok := r.buildErrs[name]; ok {
		return nil, err
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("registry: no configuration for provider %q", name)
	}
	if !cfg.IsAvailable() {
		err := fmt.Errorf("registry: provider %q is not available (disabled or missing credentials)", name)
		r.buildErrs[name] = err
		return nil, err
	}

	family := cfg.Family
	if family == "" {
		family = cfg.Name
	}
	factory, ok := r.factories[family]
	if !ok {
		err := fmt.Errorf("registry: no adapter family registered for %q", family)
		r.buildErrs[name] = err
		return nil, err
	}

	adapter := factory(cfg)
	r.adapters[name] = adapter
	return adapter, nil
}

// Config returns the configuration registered under name, reporting
// whether one exists. Used by the router to substitute a fallback
// provider's default model during the fallback walk.
func (r *Registry) Config(name string) (provider.Config, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// AvailableInPriorityOrder returns configured provider names whose Config
// reports IsAvailable, ordered by ascending Priority (local first, then
// primary down to last resort), breaking ties by name for determinism.
func (r *Registry) AvailableInPriorityOrder() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.configs))
	for name, cfg := range r.configs {
		if cfg.IsAvailable() {
			names = append(names, name)
		}
	}
	configs := r.configs
	r.mu.Unlock()

	sort.Slice(names, func(i, j int) bool {
		pi, pj := configs[names[i]].Priority, configs[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
	return names
}

// GetWithFallback resolves name, and on either a missing-configuration or
// construction error, walks AvailableInPriorityOrder for the next usable
// provider: a broken provider should not take down a request that could
// be served by any other configured upstream.
func (r *Registry) GetWithFallback(name string) (provider.Adapter, string, error) {
	if a, err := r.Get(name); err == nil {
		return a, name, nil
	}

	var lastErr error
	for _, candidate := range r.AvailableInPriorityOrder() {
		if candidate == name {
			continue
		}
		if a, err := r.Get(candidate); err == nil {
			return a, candidate, nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("registry: no available providers")
	}
	return nil, "", lastErr
}

// Close releases every constructed adapter's resources. Safe to call once
// at process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
