package resolver

import "testing"

func TestResolveAliasTakesPriority(t *testing.T) {
	table := DefaultTable()
	got := table.Resolve("sonnet")
	if got.Step != "alias" || got.Provider != "anthropic" {
		t.Fatalf("expected alias resolution to anthropic, got %+v", got)
	}
}

func TestResolveExplicitProviderModel(t *testing.T) {
	table := DefaultTable()
	got := table.Resolve("openai:gpt-4.1-turbo")
	if got.Step != "explicit" || got.Provider != "openai" || got.Model != "gpt-4.1-turbo" {
		t.Fatalf("expected explicit resolution, got %+v", got)
	}
}

func TestResolveExplicitRequiresKnownProviderPrefix(t *testing.T) {
	table := DefaultTable()
	// Ollama tags can contain a colon (e.g. "llama3:8b"); the left side
	// "llama3" is not a known provider, so this must not be treated as
	// explicit provider:model syntax.
	got := table.Resolve("llama3:8b")
	if got.Step == "explicit" {
		t.Fatalf("expected non-explicit resolution for unknown left side, got %+v", got)
	}
	if got.Provider != "ollama" {
		t.Fatalf("expected substring inference to ollama, got %+v", got)
	}
}

func TestResolveInfersLocalFamilies(t *testing.T) {
	table := DefaultTable()
	for _, model := range []string{"mistral-nemo", "qwen2.5-coder", "phi4", "deepseek-r1:7b"} {
		got := table.Resolve(model)
		if got.Step != "inference" || got.Provider != "ollama" {
			t.Errorf("Resolve(%q) = %+v, want inference to ollama", model, got)
		}
	}
}

func TestResolveSubstringInference(t *testing.T) {
	table := DefaultTable()
	got := table.Resolve("claude-3-7-sonnet-20250219")
	if got.Step != "inference" || got.Provider != "anthropic" {
		t.Fatalf("expected inference resolution to anthropic, got %+v", got)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	table := DefaultTable()
	got := table.Resolve("some-unknown-model-id")
	if got.Step != "default" || got.Provider != table.DefaultProvider {
		t.Fatalf("expected default resolution, got %+v", got)
	}
	if got.Model != "some-unknown-model-id" {
		t.Fatalf("expected default step to preserve original model string, got %q", got.Model)
	}
}

func TestResolveEmptyInputUsesDefaultModel(t *testing.T) {
	table := DefaultTable()
	got := table.Resolve("")
	if got.Model != table.DefaultModel || got.Provider != table.DefaultProvider {
		t.Fatalf("expected default provider+model for empty input, got %+v", got)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	table := DefaultTable()
	first := table.Resolve("gpt-4o-mini")
	second := table.Resolve("gpt-4o-mini")
	if first != second {
		t.Fatalf("expected deterministic resolution, got %+v then %+v", first, second)
	}
}
