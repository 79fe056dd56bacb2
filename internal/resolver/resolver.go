// Package resolver turns a caller-supplied model string into a concrete
// (provider, model) pair. Resolution is pure and deterministic: same input
// and alias table always produce the same output, with no network calls
// and no dependency on provider availability.
package resolver

import "strings"

// Resolved is the outcome of resolving a model string.
type Resolved struct {
	Provider string
	Model    string
	// Step records which resolution step produced the answer, useful for
	// diagnostics and tests; never interpreted by callers.
	Step string
}

// Table is the alias/inference configuration the resolver consults. It is
// built once at startup from config and is otherwise read-only.
type Table struct {
	// Aliases maps a friendly name straight to a resolved pair, e.g.
	// "sonnet" -> {"anthropic", "claude-sonnet-4-5-20250929"}.
	Aliases map[string]Resolved

	// KnownProviders is the set of provider names recognized on the left
	// side of an explicit "provider:model" string.
	KnownProviders map[string]bool

	// Substrings maps a case-insensitive substring of a bare model id to
	// the provider that serves it, checked in InferenceOrder.
	Substrings map[string]string
	// InferenceOrder fixes the substring-check order so resolution stays
	// deterministic when a model id could match more than one entry
	// (e.g. "gpt-4o" containing both "gpt" and, hypothetically, another
	// provider's substring).
	InferenceOrder []string

	// DefaultProvider and DefaultModel are used when every other step
	// fails to resolve the input.
	DefaultProvider string
	DefaultModel    string
}

// Resolve runs the four resolution steps in order, first match wins:
//  1. Exact alias lookup.
//  2. Explicit "provider:model" syntax, where the left side is a known
//     provider name (never split unconditionally on the first colon: a
//     bare model id that happens to contain a colon, like an Ollama tag,
//     is not infer-split unless its left side is actually a provider).
//  3. Substring inference against the bare model id.
//  4. Default provider with the original string as the model id.
func (t Table) Resolve(input string) Resolved {
	if input == "" {
		return Resolved{Provider: t.DefaultProvider, Model: t.DefaultModel, Step: "default"}
	}

	if r, ok := t.Aliases[input]; ok {
		r.Step = "alias"
		return r
	}

	if idx := strings.Index(input, ":"); idx > 0 {
		left := input[:idx]
		if t.KnownProviders[left] {
			return Resolved{Provider: left, Model: input[idx+1:], Step: "explicit"}
		}
	}

	lower := strings.ToLower(input)
	for _, key := range t.InferenceOrder {
		if strings.Contains(lower, key) {
			return Resolved{Provider: t.Substrings[key], Model: input, Step: "inference"}
		}
	}

	return Resolved{Provider: t.DefaultProvider, Model: input, Step: "default"}
}

// DefaultTable is the built-in alias and substring-hint table, so a
// gateway with no config file still resolves the common model names
// sensibly.
func DefaultTable() Table {
	return Table{
		Aliases: map[string]Resolved{
			"opus":       {Provider: "anthropic", Model: "claude-opus-4-5-20251101"},
			"sonnet":     {Provider: "anthropic", Model: "claude-sonnet-4-5-20250929"},
			"haiku":      {Provider: "anthropic", Model: "claude-haiku-4-5-20251001"},
			"gpt4":       {Provider: "openai", Model: "gpt-4.1"},
			"gpt4-mini":  {Provider: "openai", Model: "gpt-4.1-mini"},
			"o3":         {Provider: "openai", Model: "o3"},
			"gemini":     {Provider: "google", Model: "gemini-2.5-flash"},
			"gemini-pro": {Provider: "google", Model: "gemini-2.5-pro"},
			"grok":       {Provider: "xai", Model: "grok-4"},
		},
		KnownProviders: map[string]bool{
			"anthropic": true, "openai": true, "google": true, "xai": true,
			"local": true, "ollama": true,
		},
		Substrings: map[string]string{
			"claude":   "anthropic",
			"gpt":      "openai",
			"o1":       "openai",
			"o3":       "openai",
			"o4":       "openai",
			"codex":    "openai",
			"gemini":   "google",
			"grok":     "xai",
			"llama":    "ollama",
			"mistral":  "ollama",
			"qwen":     "ollama",
			"phi":      "ollama",
			"deepseek": "ollama",
		},
		InferenceOrder:  []string{"claude", "gemini", "grok", "codex", "gpt", "o1", "o3", "o4", "llama", "mistral", "qwen", "phi", "deepseek"},
		DefaultProvider: "anthropic",
		DefaultModel:    "claude-sonnet-4-5-20250929",
	}
}
