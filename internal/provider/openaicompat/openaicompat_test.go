package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openaisdk "github.com/openai/openai-go"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

type mockClient struct {
	chatErr       error
	streamChunks  []openaisdk.ChatCompletionChunk
	streamErr     error
	embedErr      error
	listModelsErr error
}

func (m *mockClient) createChatCompletion(context.Context, openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error) {
	return nil, m.chatErr
}

func (m *mockClient) streamChatCompletion(_ context.Context, _ openaisdk.ChatCompletionNewParams, emit func(openaisdk.ChatCompletionChunk)) error {
	for _, c := range m.streamChunks {
		emit(c)
	}
	return m.streamErr
}

func (m *mockClient) createEmbedding(context.Context, openaisdk.EmbeddingNewParams) (*openaisdk.CreateEmbeddingResponse, error) {
	return nil, m.embedErr
}

func (m *mockClient) listModels(context.Context) error {
	return m.listModelsErr
}

func newTestAdapter(c openaiClient) *Adapter {
	return &Adapter{cfg: Config{ProviderName: "openai", DefaultModel: "gpt-4o"}, client: c}
}

func TestChatClassifiesSDKError(t *testing.T) {
	a := newTestAdapter(&mockClient{chatErr: &openaisdk.Error{StatusCode: 401, Message: "invalid key"}})
	_, err := a.Chat(context.Background(), schema.ChatRequest{Messages: []schema.Message{{Role: schema.RoleUser, Text: "hi"}}})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindAuthentication {
		t.Fatalf("expected authentication_error, got %v", err)
	}
}

func TestChatClassifiesGenericTransportError(t *testing.T) {
	a := newTestAdapter(&mockClient{chatErr: errors.New("dial tcp: timeout")})
	_, err := a.Chat(context.Background(), schema.ChatRequest{})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Kind != provider.KindProvider {
		t.Fatalf("expected provider_error, got %v", err)
	}
}

func TestChatStreamNoChunksReturnsNilWithNoFrames(t *testing.T) {
	a := newTestAdapter(&mockClient{})
	var frames int
	err := a.ChatStream(context.Background(), schema.ChatRequest{}, func(schema.StreamFrame) error {
		frames++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames != 0 {
		t.Fatalf("expected zero frames for an empty stream, got %d", frames)
	}
}

func TestChatStreamClassifiesTransportErrorAndEmitsErrorFrame(t *testing.T) {
	a := newTestAdapter(&mockClient{streamErr: errors.New("connection reset")})
	var sawErrorStop bool
	err := a.ChatStream(context.Background(), schema.ChatRequest{}, func(f schema.StreamFrame) error {
		if f.Type == schema.FrameStop && f.FinishReason == schema.FinishError {
			sawErrorStop = true
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !sawErrorStop {
		t.Fatal("expected a synthesized error-stop frame before returning")
	}
}

func TestEmbedClassifiesError(t *testing.T) {
	a := newTestAdapter(&mockClient{embedErr: errors.New("quota exceeded")})
	_, err := a.Embed(context.Background(), schema.EmbeddingRequest{Input: []string{"x"}})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestGetModelsReturnsConfiguredList(t *testing.T) {
	models := []schema.ModelCapabilities{{ModelID: "gpt-4o", Provider: "openai"}}
	a := &Adapter{cfg: Config{ProviderName: "openai", Models: models}, client: &mockClient{}}
	got := a.GetModels()
	if len(got) != 1 || got[0].ModelID != "gpt-4o" {
		t.Fatalf("expected configured model list echoed back, got %+v", got)
	}
}

func TestHealthCheckReflectsListModelsError(t *testing.T) {
	a := newTestAdapter(&mockClient{listModelsErr: errors.New("unreachable")})
	status := a.HealthCheck(context.Background())
	if status.Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %q", status.Status)
	}
}

func TestHealthCheckHealthyWhenListModelsSucceeds(t *testing.T) {
	a := newTestAdapter(&mockClient{})
	status := a.HealthCheck(context.Background())
	if status.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", status.Status)
	}
}

func TestNewDefaultsHealthPath(t *testing.T) {
	a := New(Config{ProviderName: "openai"})
	if a.cfg.HealthPath != "/models" {
		t.Fatalf("expected default health path /models, got %q", a.cfg.HealthPath)
	}
}

func TestMapFinishReasonKnownValues(t *testing.T) {
	cases := map[string]schema.FinishReason{
		"stop":           schema.FinishStop,
		"tool_calls":     schema.FinishToolCalls,
		"function_call":  schema.FinishToolCalls,
		"length":         schema.FinishLength,
		"content_filter": schema.FinishContentFilter,
		"garbage":        schema.FinishStop,
	}
	for reason, want := range cases {
		if got := mapFinishReason(reason); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", reason, got, want)
		}
	}
}

func TestBuildParamsForwardsSamplingAndToolChoice(t *testing.T) {
	a := newTestAdapter(&mockClient{})
	temp, topP := 0.2, 0.8
	params := a.buildParams(schema.ChatRequest{
		Messages:    []schema.Message{{Role: schema.RoleUser, Text: "hi"}},
		Temperature: &temp,
		TopP:        &topP,
		Stop:        []string{"END"},
		ToolChoice:  json.RawMessage(`"required"`),
	})
	if params.Stop.OfStringArray == nil || len(params.Stop.OfStringArray) != 1 || params.Stop.OfStringArray[0] != "END" {
		t.Errorf("expected stop sequence forwarded, got %+v", params.Stop)
	}
}

func TestReasoningEffortTiersFromBudget(t *testing.T) {
	cases := map[int]string{
		0:     "medium",
		1024:  "low",
		4096:  "medium",
		32768: "high",
	}
	for budget, want := range cases {
		if got := string(reasoningEffort(budget)); got != want {
			t.Errorf("reasoningEffort(%d) = %q, want %q", budget, got, want)
		}
	}
}

func TestBuildToolChoicePassesThroughKnownModesOnly(t *testing.T) {
	if _, ok := buildToolChoice(nil); ok {
		t.Error("expected no tool choice for an empty value")
	}
	for _, mode := range []string{"auto", "required", "none"} {
		if _, ok := buildToolChoice(json.RawMessage(`"` + mode + `"`)); !ok {
			t.Errorf("expected mode %q to translate", mode)
		}
	}
	if _, ok := buildToolChoice(json.RawMessage(`"lookup"`)); ok {
		t.Error("expected an explicit tool name to be left untranslated")
	}
}

func TestConvertMessagesPreservesOrderAndRoles(t *testing.T) {
	messages := []schema.Message{
		{Role: schema.RoleSystem, Text: "be nice"},
		{Role: schema.RoleUser, Text: "hi"},
		{Role: schema.RoleAssistant, Text: "hello"},
		{Role: schema.RoleTool, Text: "42", ToolCallID: "call-1"},
	}
	got := convertMessages(messages)
	if len(got) != len(messages) {
		t.Fatalf("expected %d converted messages, got %d", len(messages), len(got))
	}
}
