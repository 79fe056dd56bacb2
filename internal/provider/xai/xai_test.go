package xai

import (
	"testing"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
)

func TestNewDefaultsBaseURLAndModel(t *testing.T) {
	a := New(provider.Config{Name: "xai", APIKey: "test-key"})
	if a.Name() != "xai" {
		t.Fatalf("expected provider name xai, got %q", a.Name())
	}
	models := a.GetModels()
	if len(models) != 2 {
		t.Fatalf("expected 2 known Grok models, got %d", len(models))
	}
}

func TestNewHonorsConfiguredBaseURL(t *testing.T) {
	a := New(provider.Config{Name: "xai", BaseURL: "https://custom.x.ai/v1"})
	if a == nil {
		t.Fatal("expected a constructed adapter")
	}
}
