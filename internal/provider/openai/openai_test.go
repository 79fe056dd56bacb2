package openai

import (
	"testing"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
)

func TestNewDefaultsModel(t *testing.T) {
	a := New(provider.Config{Name: "openai", APIKey: "sk-test"})
	if a.Name() != "openai" {
		t.Fatalf("expected provider name openai, got %q", a.Name())
	}
	models := a.GetModels()
	if len(models) == 0 {
		t.Fatal("expected a known model list")
	}
	for _, m := range models {
		if m.Provider != "openai" {
			t.Errorf("expected every model stamped with provider openai, got %q", m.Provider)
		}
	}
}

func TestNewHonorsConfiguredDefaultModel(t *testing.T) {
	a := New(provider.Config{Name: "openai", DefaultModel: "gpt-4.1-mini"})
	if a == nil {
		t.Fatal("expected a constructed adapter")
	}
}
