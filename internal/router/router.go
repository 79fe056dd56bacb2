// Package router orchestrates the resolve -> gate -> primary -> fallback
// path every chat/stream/embed request takes: resolve the requested model
// to a provider, consult that provider's circuit breaker, attempt the
// call, and on a fallback-eligible failure walk the remaining configured
// providers in priority order.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/breaker"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/emit"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/health"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/registry"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/resolver"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

// Router wires together resolution, the adapter registry, and the
// breaker/health registries into the single call path every gateway
// endpoint goes through.
type Router struct {
	resolveTable   resolver.Table
	registry       *registry.Registry
	breakers       *breaker.Registry
	health         *health.Registry
	emitter        emit.Emitter
	enableFallback bool
}

// New builds a Router with fallback enabled. Events are discarded until
// SetEmitter is called.
func New(table resolver.Table, reg *registry.Registry, breakers *breaker.Registry, healthReg *health.Registry) *Router {
	return &Router{
		resolveTable:   table,
		registry:       reg,
		breakers:       breakers,
		health:         healthReg,
		emitter:        emit.NewNullEmitter(),
		enableFallback: true,
	}
}

// SetEmitter swaps the observability backend every subsequent request
// emits against (resolve decisions, fallbacks, circuit gates, outcomes).
func (r *Router) SetEmitter(e emit.Emitter) {
	if e != nil {
		r.emitter = e
	}
}

// SetFallbackEnabled wires the enable_fallback configuration flag: when
// false, a primary failure surfaces immediately instead of walking the
// remaining providers.
func (r *Router) SetFallbackEnabled(enabled bool) {
	r.enableFallback = enabled
}

// Resolution is returned alongside the response so callers (the Gateway
// API) can report which provider/model actually served a request, which
// may differ from what was asked for after a fallback.
type Resolution struct {
	RequestedModel string
	Provider       string
	Model          string
	Fallback       bool
}

// Chat resolves req.Model, gates on the resolved provider's breaker, and
// attempts the call; on a fallback-eligible failure it walks the
// remaining available providers in priority order, substituting each
// fallback provider's own default model, before giving up.
func (r *Router) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, Resolution, error) {
	requested := req.Model
	resolved := r.resolveTable.Resolve(req.Model)

	resp, usedProvider, usedModel, err := attemptChain(r, resolved, func(a provider.Adapter, model string) (schema.ChatResponse, error) {
		attempt := req
		attempt.Model = model
		return a.Chat(ctx, attempt)
	})
	return resp, Resolution{
		RequestedModel: requested,
		Provider:       usedProvider,
		Model:          usedModel,
		Fallback:       usedProvider != resolved.Provider,
	}, err
}

// ChatStream is Chat's streaming counterpart. Fallback only applies
// before the first frame is emitted: once a provider has started
// streaming content, a mid-stream failure is surfaced to the caller as-is
// rather than silently restarted against a different upstream.
func (r *Router) ChatStream(ctx context.Context, req schema.ChatRequest, emitFrame provider.StreamFunc) (Resolution, error) {
	requested := req.Model
	resolved := r.resolveTable.Resolve(req.Model)

	started := false
	wrappedEmit := func(frame schema.StreamFrame) error {
		started = true
		return emitFrame(frame)
	}

	_, usedProvider, usedModel, err := attemptChain(r, resolved, func(a provider.Adapter, model string) (struct{}, error) {
		if started {
			// Too late to fall back; stream against the caller directly.
			attempt := req
			attempt.Model = model
			return struct{}{}, a.ChatStream(ctx, attempt, emitFrame)
		}
		attempt := req
		attempt.Model = model
		err := a.ChatStream(ctx, attempt, wrappedEmit)
		if err != nil && started {
			// A mid-stream failure is not fallback-eligible: the caller
			// already holds partial content from this provider.
			return struct{}{}, &midStreamError{err: err}
		}
		return struct{}{}, err
	})

	return Resolution{
		RequestedModel: requested,
		Provider:       usedProvider,
		Model:          usedModel,
		Fallback:       usedProvider != resolved.Provider,
	}, err
}

// Embed resolves and gates like Chat but never falls back: embedding
// dimensionality and capability vary too much across providers for a
// silent substitution to be meaningful.
func (r *Router) Embed(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, Resolution, error) {
	requested := req.Model
	resolved := r.resolveTable.Resolve(req.Model)
	req.Model = resolved.Model

	var resp schema.EmbeddingResponse
	err := r.callOne(ctx, resolved.Provider, func(a provider.Adapter) error {
		var callErr error
		resp, callErr = a.Embed(ctx, req)
		return callErr
	})
	return resp, Resolution{
		RequestedModel: requested,
		Provider:       resolved.Provider,
		Model:          resolved.Model,
	}, err
}

// Call performs one request against a specific named provider, bypassing
// resolution. This is the path the heal package's ChatFunc uses: the
// diagnose/research/fix phases already know exactly which provider they
// want, and still benefit from the breaker gate and health recording.
func (r *Router) Call(ctx context.Context, providerName string, do func(provider.Adapter) error) error {
	return r.callOne(ctx, providerName, do)
}

// attemptChain runs do against the resolved primary provider with the
// resolved model, then (on a fallback-eligible error) against each
// remaining available provider in priority order, each with its own
// configured default model, stopping at the first success.
func attemptChain[T any](r *Router, resolved resolver.Resolved, do func(a provider.Adapter, model string) (T, error)) (T, string, string, error) {
	var zero T
	type candidate struct {
		name  string
		model string
	}
	candidates := []candidate{{name: resolved.Provider, model: resolved.Model}}
	if r.enableFallback {
		for _, name := range r.registry.AvailableInPriorityOrder() {
			if name == resolved.Provider {
				continue
			}
			model := resolved.Model
			if cfg, ok := r.registry.Config(name); ok && cfg.DefaultModel != "" {
				model = cfg.DefaultModel
			}
			candidates = append(candidates, candidate{name: name, model: model})
		}
	}

	var lastErr error
	for i, c := range candidates {
		if i > 0 {
			r.emitter.Emit(emit.Event{Provider: c.name, Msg: "router.fallback", Meta: map[string]any{"from": resolved.Provider, "model": c.model}})
		}
		if !r.breakers.Get(c.name).CanExecute() {
			lastErr = circuitOpenError(c.name)
			r.emitter.Emit(emit.Event{Provider: c.name, Msg: "router.circuit_open"})
			continue
		}
		adapter, err := r.registry.Get(c.name)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := do(adapter, c.model)
		if err != nil {
			r.breakers.Get(c.name).RecordFailure()
			r.health.Get(c.name).RecordFailure(err.Error())
			r.emitter.Emit(emit.Event{Provider: c.name, Msg: "router.failure", Meta: map[string]any{"error": err.Error()}})
			if !isFallbackEligible(err) {
				return zero, c.name, c.model, err
			}
			lastErr = err
			continue
		}

		r.breakers.Get(c.name).RecordSuccess()
		r.health.Get(c.name).RecordSuccess()
		r.emitter.Emit(emit.Event{Provider: c.name, Msg: "router.success"})
		return result, c.name, c.model, nil
	}
	if lastErr == nil {
		lastErr = &provider.Error{Kind: provider.KindCircuitOpen, Provider: resolved.Provider,
			Message: fmt.Sprintf("no available providers for %q", resolved.Provider)}
	}
	var perr *provider.Error
	if !errors.As(lastErr, &perr) {
		// Construction failures and unclassified transport errors still
		// surface with a 5xx-class provider kind rather than reading as a
		// gateway bug.
		lastErr = &provider.Error{Kind: provider.KindProvider, Provider: resolved.Provider, Message: lastErr.Error(), Err: lastErr}
	}
	return zero, resolved.Provider, resolved.Model, lastErr
}

func (r *Router) callOne(ctx context.Context, name string, do func(provider.Adapter) error) error {
	if !r.breakers.Get(name).CanExecute() {
		r.emitter.Emit(emit.Event{Provider: name, Msg: "router.circuit_open"})
		return circuitOpenError(name)
	}
	adapter, err := r.registry.Get(name)
	if err != nil {
		return err
	}
	if err := do(adapter); err != nil {
		r.breakers.Get(name).RecordFailure()
		r.health.Get(name).RecordFailure(err.Error())
		r.emitter.Emit(emit.Event{Provider: name, Msg: "router.failure", Meta: map[string]any{"error": err.Error()}})
		return err
	}
	r.breakers.Get(name).RecordSuccess()
	r.health.Get(name).RecordSuccess()
	r.emitter.Emit(emit.Event{Provider: name, Msg: "router.success"})
	return nil
}

// midStreamError marks a failure that occurred after frames already
// reached the caller; never fallback-eligible regardless of the
// underlying error's kind.
type midStreamError struct{ err error }

func (e *midStreamError) Error() string { return e.err.Error() }
func (e *midStreamError) Unwrap() error { return e.err }

func circuitOpenError(name string) *provider.Error {
	return &provider.Error{
		Kind:     provider.KindCircuitOpen,
		Provider: name,
		Message:  fmt.Sprintf("provider %q circuit is open", name),
	}
}

// isFallbackEligible reports whether an error should cause the router to
// try the next provider, rather than surfacing it immediately. Only
// generic provider errors and circuit refusals are fallback-eligible: a
// 429 is surfaced to the caller as-is, since silently rerouting a
// rate-limited request changes its cost/quota profile in a way the
// caller didn't ask for; authentication and model-not-found errors fail
// fast rather than fall back, since another upstream won't fix a bad key
// or an unknown model id. Provider errors, by contrast, mean this
// specific upstream is broken right now and another one may well work.
func isFallbackEligible(err error) bool {
	var mse *midStreamError
	if errors.As(err, &mse) {
		return false
	}
	var perr *provider.Error
	if !errors.As(err, &perr) {
		return true // unclassified transport errors are assumed fallback-eligible
	}
	switch perr.Kind {
	case provider.KindRateLimit, provider.KindUnsupported, provider.KindAuthentication, provider.KindModelNotFound:
		return false
	default:
		return true
	}
}
