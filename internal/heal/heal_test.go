package heal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/health"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/reload"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

func newTestReload(t *testing.T) *reload.Manager {
	t.Helper()
	dir := t.TempDir()
	m := reload.New(reload.Config{
		Dir:                dir,
		AutoApplyThreshold: 0.8,
		Verify:             func(context.Context, string) error { return nil },
		SQLitePath:         filepath.Join(dir, "audit.db"),
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

const diagnoseJSON = `{"is_transient": false, "diagnosis": "field renamed upstream", "search_queries": ["anthropic api field renamed"], "what_to_look_for": "changelog entries about the renamed field"}`
const transientJSON = `{"is_transient": true, "diagnosis": "", "search_queries": [], "what_to_look_for": ""}`
const fixJSON = `{"fix_type": "config_change", "confidence": 0.95, "change_summary": "rename field", "fix_code": "{\"field\":\"bar\"}", "reasoning": "docs confirm the rename"}`

func TestHealSuccessfulPipelineAutoAppliesFix(t *testing.T) {
	calls := map[string]int{}
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		calls[providerName]++
		switch providerName {
		case "ollama":
			if calls["ollama"] == 1 {
				return schema.ChatResponse{Content: diagnoseJSON}, nil
			}
			return schema.ChatResponse{Content: fixJSON}, nil
		default:
			return schema.ChatResponse{Content: "API changed field name from foo to bar in v2."}, nil
		}
	}

	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("anthropic", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	ok := w.Run(context.Background(), "anthropic", health.Event{Type: health.ErrSchemaMismatch, Message: "unknown field 'foo'"}, nil, monitor)
	if !ok {
		t.Fatal("expected a verified heal cycle")
	}

	history := reloadMgr.History("anthropic")
	if len(history) != 1 {
		t.Fatalf("expected one applied fix version, got %d", len(history))
	}
	if history[0].Fix.Status != reload.StatusVerified {
		t.Fatalf("expected the high-confidence fix to auto-verify, got %q", history[0].Fix.Status)
	}
}

func TestHealTransientDiagnosisSkipsResearchAndFix(t *testing.T) {
	callCount := 0
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		callCount++
		return schema.ChatResponse{Content: transientJSON}, nil
	}
	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("openai", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	ok := w.Run(context.Background(), "openai", health.Event{Type: health.ErrSchemaMismatch, Message: "transient blip"}, nil, monitor)
	if !ok {
		t.Fatal("expected a transient diagnosis to complete as verified")
	}

	if callCount != 1 {
		t.Fatalf("expected diagnose to be the only model call, got %d", callCount)
	}
	if len(reloadMgr.History("openai")) != 0 {
		t.Fatal("expected no_fix_needed to never take a backup")
	}
	if monitor.Status().Healing {
		t.Fatal("expected healing flag released after a no_fix_needed outcome")
	}
}

func TestHealResearchSkipsProviderUnderHeal(t *testing.T) {
	var researched []string
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		if providerName == "ollama" {
			if len(researched) == 0 {
				return schema.ChatResponse{Content: diagnoseJSON}, nil
			}
			return schema.ChatResponse{Content: fixJSON}, nil
		}
		researched = append(researched, providerName)
		return schema.ChatResponse{Content: "findings"}, nil
	}
	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("xai", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	w.Run(context.Background(), "xai", health.Event{Type: health.ErrSchemaMismatch, Message: "unknown field"}, nil, monitor)

	for _, name := range researched {
		if name == "xai" {
			t.Fatal("expected the provider under heal to be excluded from research")
		}
	}
	if len(researched) == 0 {
		t.Fatal("expected at least one research call")
	}
}

func TestHealResearchExhaustionContinuesWithPlaceholder(t *testing.T) {
	var fixPrompt string
	ollamaCalls := 0
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		if providerName == "ollama" {
			ollamaCalls++
			if ollamaCalls == 1 {
				return schema.ChatResponse{Content: diagnoseJSON}, nil
			}
			fixPrompt = req.Messages[len(req.Messages)-1].Text
			return schema.ChatResponse{Content: fixJSON}, nil
		}
		return schema.ChatResponse{}, errors.New("connection refused")
	}
	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("google", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	w.Run(context.Background(), "google", health.Event{Type: health.ErrSchemaMismatch, Message: "unknown field"}, nil, monitor)

	if ollamaCalls != 2 {
		t.Fatalf("expected the fix phase to still run after research exhaustion, got %d local calls", ollamaCalls)
	}
	if !strings.Contains(fixPrompt, noResearchFound) {
		t.Fatalf("expected the fix prompt to carry the no-documentation placeholder, got %q", fixPrompt)
	}
}

func TestHealDiagnoseFailureProposesZeroConfidenceWorkaround(t *testing.T) {
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		return schema.ChatResponse{}, errors.New("401 unauthorized: bad api key")
	}
	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("anthropic", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	ok := w.Run(context.Background(), "anthropic", health.Event{Type: health.ErrSchemaMismatch, Message: "unknown field"}, nil, monitor)
	if ok {
		t.Fatal("expected a failed pipeline to not report success")
	}

	pending := reloadMgr.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected the zero-confidence workaround to queue for review, got %d pending", len(pending))
	}
	if pending[0].Type != reload.FixWorkaround || pending[0].Confidence != 0 {
		t.Fatalf("expected a zero-confidence workaround, got %+v", pending[0])
	}
}

func TestHealUnparseableFixReplyDegradesToNoFixNeeded(t *testing.T) {
	ollamaCalls := 0
	chat := func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error) {
		if providerName == "ollama" {
			ollamaCalls++
			if ollamaCalls == 1 {
				return schema.ChatResponse{Content: diagnoseJSON}, nil
			}
			return schema.ChatResponse{Content: "sorry, I can't produce JSON today"}, nil
		}
		return schema.ChatResponse{Content: "findings"}, nil
	}
	reloadMgr := newTestReload(t)
	w := New(Config{Chat: chat, LocalProvider: "ollama", LocalModel: "llama3", Reload: reloadMgr})

	monitor := health.NewMonitor("anthropic", health.DefaultConfig(), func(string, health.Event, []health.Event) {})
	ok := w.Run(context.Background(), "anthropic", health.Event{Type: health.ErrSchemaMismatch, Message: "unknown field"}, nil, monitor)
	if !ok {
		t.Fatal("expected the conservative no_fix_needed proposal to verify")
	}
	if len(reloadMgr.Pending()) != 0 {
		t.Fatal("expected no pending fix from a no_fix_needed proposal")
	}
}

func TestCategorizeHealFailure(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errors.New("401 unauthorized: bad api key"), "auth_error"},
		{errors.New("dial tcp: connect: connection timeout"), "transient_error"},
		{errors.New("completely unexpected failure"), "heal_error"},
	}
	for _, tc := range cases {
		if got := categorizeHealFailure(tc.err); got != tc.want {
			t.Errorf("categorizeHealFailure(%q) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestExtractJSONHandlesFencedReplies(t *testing.T) {
	var out diagnosis
	fenced := "```json\n" + diagnoseJSON + "\n```"
	if err := extractJSON(fenced, &out); err != nil {
		t.Fatalf("unexpected error extracting fenced JSON: %v", err)
	}
	if out.Diagnosis != "field renamed upstream" {
		t.Fatalf("expected parsed diagnosis, got %q", out.Diagnosis)
	}
}

func TestExtractJSONRejectsGarbage(t *testing.T) {
	var out diagnosis
	if err := extractJSON("not json at all", &out); err == nil {
		t.Fatal("expected an error for unparseable content")
	}
}
